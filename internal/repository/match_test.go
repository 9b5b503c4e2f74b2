package repository

import (
	"context"
	"testing"
	"time"

	"playforge/internal/models"
	"playforge/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRepository_PairOldestOtherUser(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	g := testutil.CreateGame(t, db, owner.ID, "Duel", models.GameStatusPublished)
	a := testutil.CreateUser(t, db, "a", 0)
	b := testutil.CreateUser(t, db, "b", 0)
	c := testutil.CreateUser(t, db, "c", 0)

	ta, err := repo.Pair(ctx, a.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, ta.Status)

	again, err := repo.Pair(ctx, a.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, ta.ID, again.ID, "re-enqueue returns the existing ticket")

	tb, err := repo.Pair(ctx, b.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueMatched, tb.Status)
	require.NotNil(t, tb.Session)
	assert.Equal(t, a.ID, tb.Session.PlayerOneID)
	assert.Equal(t, b.ID, tb.Session.PlayerTwoID)
	assert.Len(t, tb.Session.RoomID, 36)

	current, err := repo.CurrentTicket(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueMatched, current.Status)
	require.NotNil(t, current.Session)
	assert.Equal(t, tb.Session.ID, current.Session.ID)

	tc, err := repo.Pair(ctx, c.ID, g.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, tc.Status, "matched players are not paired again")

	sameRoom, err := repo.GetSessionByRoom(ctx, tb.Session.RoomID)
	require.NoError(t, err)
	assert.Equal(t, tb.Session.ID, sameRoom.ID)
}

func TestMatchRepository_DifferentGamesDoNotPair(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	g1 := testutil.CreateGame(t, db, owner.ID, "One", models.GameStatusPublished)
	g2 := testutil.CreateGame(t, db, owner.ID, "Two", models.GameStatusPublished)
	a := testutil.CreateUser(t, db, "a", 0)
	b := testutil.CreateUser(t, db, "b", 0)

	_, err := repo.Pair(ctx, a.ID, g1.ID)
	require.NoError(t, err)
	tb, err := repo.Pair(ctx, b.ID, g2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, tb.Status)
}

func TestMatchRepository_CancelExpireEnd(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewMatchRepository(db)
	ctx := context.Background()

	owner := testutil.CreateUser(t, db, "owner", 0)
	g := testutil.CreateGame(t, db, owner.ID, "Duel", models.GameStatusPublished)
	a := testutil.CreateUser(t, db, "a", 0)
	b := testutil.CreateUser(t, db, "b", 0)

	_, err := repo.Pair(ctx, a.ID, g.ID)
	require.NoError(t, err)
	n, err := repo.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = repo.CurrentTicket(ctx, a.ID)
	assert.Equal(t, 404, models.StatusFor(err))

	tb, err := repo.Pair(ctx, b.ID, g.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.MatchQueueEntry{}).Where("id = ?", tb.ID).
		Update("created_at", time.Now().UTC().Add(-5*time.Minute)).Error)
	expired, err := repo.ExpireStale(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	_, err = repo.Pair(ctx, a.ID, g.ID)
	require.NoError(t, err)
	tb, err = repo.Pair(ctx, b.ID, g.ID)
	require.NoError(t, err)
	require.NotNil(t, tb.Session)

	ended, err := repo.EndSession(ctx, tb.Session.ID, models.MatchFinished, &b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchFinished, ended.Status)
	require.NotNil(t, ended.EndedAt)

	_, err = repo.EndSession(ctx, tb.Session.ID, models.MatchAbandoned, nil)
	assert.Equal(t, 409, models.StatusFor(err))

	wins, err := repo.CountWins(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), wins)

	_, err = repo.CurrentTicket(ctx, b.ID)
	assert.Equal(t, 404, models.StatusFor(err), "finished sessions no longer hold a ticket")
}

func TestImageRepository(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewImageRepository(db)
	ctx := context.Background()

	img := &models.Image{Hash: "abc123", UserID: 1, MasterKey: "images/abc123/master.jpg", Status: models.ImageStatusQueued}
	stored, created, err := repo.Create(ctx, img)
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := repo.Create(ctx, &models.Image{Hash: "abc123", UserID: 2, MasterKey: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, dup.ID)

	claimed, err := repo.ClaimNextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.ProcessingAttempts)

	require.NoError(t, repo.UpsertVariant(ctx, &models.ImageVariant{ImageID: claimed.ID, SizeName: "sm", SizePx: 256, Format: "webp", Key: "k1", Bytes: 10}))
	require.NoError(t, repo.UpsertVariant(ctx, &models.ImageVariant{ImageID: claimed.ID, SizeName: "sm", SizePx: 256, Format: "webp", Key: "k2", Bytes: 12}))
	require.NoError(t, repo.MarkReady(ctx, claimed.ID))

	withVariants, err := repo.GetByHashWithVariants(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.ImageStatusReady, withVariants.Status)
	require.Len(t, withVariants.Variants, 1)
	assert.Equal(t, "k2", withVariants.Variants[0].Key)

	require.NoError(t, repo.MarkFailed(ctx, claimed.ID, "decode", true))
	again, err := repo.GetByHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.ImageStatusQueued, again.Status)

	_, err = repo.GetByHash(ctx, "missing")
	assert.Equal(t, 404, models.StatusFor(err))
}
