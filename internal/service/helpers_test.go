package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"playforge/internal/cache"
	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"
)

// testEnv wires real repositories over an in-memory SQLite database.
type testEnv struct {
	db            *gorm.DB
	users         repository.UserRepository
	games         repository.GameRepository
	follows       repository.FollowRepository
	comments      repository.CommentRepository
	chat          repository.ChatRepository
	matches       repository.MatchRepository
	notifications repository.NotificationRepository
	push          repository.PushRepository
	coins         repository.CoinRepository
	achievements  repository.AchievementRepository
	generation    repository.GenerationRepository
	images        repository.ImageRepository

	notifier  *recordingNotifier
	realtime  *recordingPublisher
	evaluator *recordingEvaluator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	return &testEnv{
		db:            db,
		users:         repository.NewUserRepository(db),
		games:         repository.NewGameRepository(db),
		follows:       repository.NewFollowRepository(db),
		comments:      repository.NewCommentRepository(db),
		chat:          repository.NewChatRepository(db),
		matches:       repository.NewMatchRepository(db),
		notifications: repository.NewNotificationRepository(db),
		push:          repository.NewPushRepository(db),
		coins:         repository.NewCoinRepository(db),
		achievements:  repository.NewAchievementRepository(db),
		generation:    repository.NewGenerationRepository(db),
		images:        repository.NewImageRepository(db),
		notifier:      &recordingNotifier{},
		realtime:      &recordingPublisher{},
		evaluator:     &recordingEvaluator{},
	}
}

func (e *testEnv) user(t *testing.T, name string, coins int64) *models.User {
	t.Helper()
	return testutil.CreateUser(t, e.db, name, coins)
}

func (e *testEnv) game(t *testing.T, ownerID uint, title string, status models.GameStatus) *models.Game {
	t.Helper()
	return testutil.CreateGame(t, e.db, ownerID, title, status)
}

func (e *testEnv) gameService() *GameService {
	return NewGameService(e.games, e.follows, e.notifier, e.evaluator, e.isAdmin, "https://play.test/")
}

func (e *testEnv) isAdmin(ctx context.Context, userID uint) (bool, error) {
	return NewUserService(e.users, e.follows).IsAdmin(ctx, userID)
}

// useRedis points the package cache at a fresh miniredis for the test.
func useRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, client := testutil.NewRedis(t)
	prev := cache.GetClient()
	cache.SetClient(client)
	t.Cleanup(func() { cache.SetClient(prev) })
	return mr
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []NotifyInput
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, in NotifyInput) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, in)
	return n.err
}

func (n *recordingNotifier) ofType(typ string) []NotifyInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotifyInput
	for _, c := range n.calls {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

type publishedEvent struct {
	UserID  uint
	Type    string
	Payload json.RawMessage
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishUser(_ context.Context, userID uint, payload string) error {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{UserID: userID, Type: env.Type, Payload: env.Payload})
	return nil
}

func (p *recordingPublisher) to(userID uint, typ string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.UserID == userID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type evaluation struct {
	UserID uint
	Metric string
}

type recordingEvaluator struct {
	mu    sync.Mutex
	calls []evaluation
}

func (e *recordingEvaluator) Evaluate(_ context.Context, userID uint, metric string) ([]models.Achievement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, evaluation{UserID: userID, Metric: metric})
	return nil, nil
}

func (e *recordingEvaluator) count(userID uint, metric string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.UserID == userID && c.Metric == metric {
			n++
		}
	}
	return n
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError with code %s, got %T: %v", code, err, err)
	}
	if appErr.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, appErr.Code, appErr.Message)
	}
}

func assertValidationError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeValidation)
}

func assertNotFoundError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeNotFound)
}

func assertForbiddenError(t *testing.T, err error) {
	t.Helper()
	assertCode(t, err, models.CodeForbidden)
}

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }
