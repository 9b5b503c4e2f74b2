package service

import (
	"context"
	"testing"

	"playforge/internal/cache"
	"playforge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) matchmakingService() *MatchmakingService {
	return NewMatchmakingService(e.matches, e.games, e.realtime, e.notifier, e.evaluator)
}

func TestMatchmakingService_PairsTwoPlayers(t *testing.T) {
	env := newTestEnv(t)
	svc := env.matchmakingService()
	ctx := context.Background()
	owner := env.user(t, "owner", 0)
	p1 := env.user(t, "p1", 0)
	p2 := env.user(t, "p2", 0)
	game := env.game(t, owner.ID, "Pong", models.GameStatusPublished)

	first, err := svc.Enqueue(ctx, p1.ID, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, first.Status)

	// Enqueueing again hands back the same ticket.
	again, err := svc.Enqueue(ctx, p1.ID, game.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	second, err := svc.Enqueue(ctx, p2.ID, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueMatched, second.Status)
	require.NotNil(t, second.Session)
	session := second.Session
	assert.Equal(t, p1.ID, session.PlayerOneID)
	assert.Equal(t, p2.ID, session.PlayerTwoID)
	assert.NotEmpty(t, session.RoomID)

	for _, id := range []uint{p1.ID, p2.ID} {
		assert.Len(t, env.realtime.to(id, EventMatchFound), 1)
	}
	assert.Len(t, env.notifier.ofType(models.NotificationMatchFound), 2)

	ticket, err := svc.Ticket(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueMatched, ticket.Status)
	require.NotNil(t, ticket.MatchSessionID)
	assert.Equal(t, session.ID, *ticket.MatchSessionID)

	ok, err := svc.IsParticipant(ctx, session.RoomID, p1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.IsParticipant(ctx, session.RoomID, owner.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.IsParticipant(ctx, "no-such-room", p1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchmakingService_DraftsCannotBeQueued(t *testing.T) {
	env := newTestEnv(t)
	svc := env.matchmakingService()
	owner := env.user(t, "owner", 0)
	draft := env.game(t, owner.ID, "Soon", models.GameStatusDraft)

	_, err := svc.Enqueue(context.Background(), owner.ID, draft.ID)
	assertNotFoundError(t, err)
}

func TestMatchmakingService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	svc := env.matchmakingService()
	ctx := context.Background()
	owner := env.user(t, "owner", 0)
	player := env.user(t, "player", 0)
	game := env.game(t, owner.ID, "Chess", models.GameStatusPublished)

	_, err := svc.Enqueue(ctx, player.ID, game.ID)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, player.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	cancelled, err = svc.Cancel(ctx, player.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	_, err = svc.Ticket(ctx, player.ID)
	assertNotFoundError(t, err)
}

func TestMatchmakingService_FinishAndAbandon(t *testing.T) {
	env := newTestEnv(t)
	svc := env.matchmakingService()
	ctx := context.Background()
	owner := env.user(t, "owner", 0)
	p1 := env.user(t, "p1", 0)
	p2 := env.user(t, "p2", 0)
	outsider := env.user(t, "outsider", 0)
	game := env.game(t, owner.ID, "Duel", models.GameStatusPublished)

	_, err := svc.Enqueue(ctx, p1.ID, game.ID)
	require.NoError(t, err)
	entry, err := svc.Enqueue(ctx, p2.ID, game.ID)
	require.NoError(t, err)
	sessionID := entry.Session.ID

	_, err = svc.GetSession(ctx, outsider.ID, sessionID)
	assertNotFoundError(t, err)

	_, err = svc.Finish(ctx, FinishMatchInput{UserID: p1.ID, SessionID: sessionID, WinnerID: uintPtr(outsider.ID)})
	assertValidationError(t, err)

	ended, err := svc.Finish(ctx, FinishMatchInput{UserID: p1.ID, SessionID: sessionID, WinnerID: uintPtr(p2.ID)})
	require.NoError(t, err)
	assert.Equal(t, models.MatchFinished, ended.Status)
	require.NotNil(t, ended.WinnerID)
	assert.Equal(t, p2.ID, *ended.WinnerID)
	assert.Equal(t, 1, env.evaluator.count(p2.ID, MetricMatchesWon))
	assert.Len(t, env.realtime.to(p1.ID, EventMatchEnded), 1)

	_, err = svc.Finish(ctx, FinishMatchInput{UserID: p2.ID, SessionID: sessionID})
	assertCode(t, err, models.CodeConflict)
	_, err = svc.Abandon(ctx, p2.ID, sessionID)
	assertCode(t, err, models.CodeConflict)

	// Once the session ended both players may queue again.
	fresh, err := svc.Enqueue(ctx, p1.ID, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, fresh.Status)
}

func TestMatchmakingService_ReleasesPairingLock(t *testing.T) {
	mr := useRedis(t)
	env := newTestEnv(t)
	svc := env.matchmakingService()
	ctx := context.Background()
	owner := env.user(t, "owner", 0)
	player := env.user(t, "player", 0)
	game := env.game(t, owner.ID, "Locked", models.GameStatusPublished)

	_, err := svc.Enqueue(ctx, player.ID, game.ID)
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.LockKey("matchmaking", game.ID)))
}
