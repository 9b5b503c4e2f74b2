package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"playforge/internal/cache"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/observability"
	"playforge/internal/repository"
)

// Realtime matchmaking events.
const (
	EventMatchFound = "match_found"
	EventMatchEnded = "match_ended"
)

// QueueMaxWait is how long a waiting ticket stays eligible for pairing.
const QueueMaxWait = 2 * time.Minute

const (
	pairLockTTL  = 5 * time.Second
	pairLockWait = 3 * time.Second
)

type MatchmakingService struct {
	matchRepo    repository.MatchRepository
	gameRepo     repository.GameRepository
	realtime     RealtimePublisher
	notifier     Notifier
	achievements Evaluator
}

type FinishMatchInput struct {
	UserID    uint
	SessionID uint
	// WinnerID nil records a draw.
	WinnerID *uint
}

func NewMatchmakingService(
	matchRepo repository.MatchRepository,
	gameRepo repository.GameRepository,
	realtime RealtimePublisher,
	notifier Notifier,
	achievements Evaluator,
) *MatchmakingService {
	return &MatchmakingService{
		matchRepo:    matchRepo,
		gameRepo:     gameRepo,
		realtime:     realtime,
		notifier:     notifier,
		achievements: achievements,
	}
}

// Enqueue puts userID in the queue for gameID. A user already waiting or
// playing gets their current ticket back. When an opponent is waiting the
// two are paired and both are told about the match.
func (s *MatchmakingService) Enqueue(ctx context.Context, userID, gameID uint) (*models.MatchQueueEntry, error) {
	game, err := s.gameRepo.GetByID(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	if !game.IsPublished() {
		return nil, models.NewNotFoundError("Game", gameID)
	}

	if current, err := s.matchRepo.CurrentTicket(ctx, userID); err == nil {
		return current, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	release, err := cache.Lock(ctx, cache.LockKey("matchmaking", gameID), pairLockTTL, pairLockWait)
	if err != nil {
		if errors.Is(err, cache.ErrLockBusy) {
			return nil, &models.AppError{Code: models.CodeRateLimited, Message: "Matchmaking is busy, try again", Err: err}
		}
		// The pairing transaction stays correct without the lock.
		middleware.Logger.WarnContext(ctx, "matchmaking lock unavailable", slog.String("error", err.Error()))
		release = func() {}
	}
	defer release()

	if _, err := s.matchRepo.ExpireStale(ctx, QueueMaxWait); err != nil {
		return nil, err
	}
	entry, err := s.matchRepo.Pair(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	if entry.Status == models.QueueMatched && entry.Session != nil {
		observability.MatchmakingPairsTotal.Inc()
		s.announceMatch(ctx, game, entry.Session)
	}
	return entry, nil
}

func (s *MatchmakingService) announceMatch(ctx context.Context, game *models.Game, session *models.MatchSession) {
	payload := map[string]interface{}{
		"session_id": session.ID,
		"game_id":    session.GameID,
		"room_id":    session.RoomID,
		"players":    []uint{session.PlayerOneID, session.PlayerTwoID},
	}
	publishEvent(ctx, s.realtime, EventMatchFound, payload, session.PlayerOneID, session.PlayerTwoID)

	for _, player := range []uint{session.PlayerOneID, session.PlayerTwoID} {
		notify(ctx, s.notifier, NotifyInput{
			UserID:   player,
			ActorID:  session.Opponent(player),
			Type:     models.NotificationMatchFound,
			EntityID: session.ID,
			Body:     fmt.Sprintf("Opponent found for %q", game.Title),
			Data:     map[string]string{"room_id": session.RoomID},
		})
	}
}

// Ticket returns the caller's waiting ticket or active match.
func (s *MatchmakingService) Ticket(ctx context.Context, userID uint) (*models.MatchQueueEntry, error) {
	return s.matchRepo.CurrentTicket(ctx, userID)
}

// Cancel withdraws the caller's waiting ticket. It reports whether one existed.
func (s *MatchmakingService) Cancel(ctx context.Context, userID uint) (bool, error) {
	n, err := s.matchRepo.Cancel(ctx, userID)
	return n > 0, err
}

// GetSession returns a session to one of its players.
func (s *MatchmakingService) GetSession(ctx context.Context, userID, sessionID uint) (*models.MatchSession, error) {
	session, err := s.matchRepo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasPlayer(userID) {
		return nil, models.NewNotFoundError("Match session", sessionID)
	}
	return session, nil
}

// Finish records the result of an active session. Only players may report
// and the winner, if any, must be one of them.
func (s *MatchmakingService) Finish(ctx context.Context, in FinishMatchInput) (*models.MatchSession, error) {
	session, err := s.GetSession(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}
	if in.WinnerID != nil && !session.HasPlayer(*in.WinnerID) {
		return nil, models.NewValidationError("Winner must be one of the players")
	}

	ended, err := s.matchRepo.EndSession(ctx, session.ID, models.MatchFinished, in.WinnerID)
	if err != nil {
		return nil, err
	}
	publishEvent(ctx, s.realtime, EventMatchEnded, ended, ended.PlayerOneID, ended.PlayerTwoID)
	if in.WinnerID != nil {
		evaluate(ctx, s.achievements, *in.WinnerID, MetricMatchesWon)
	}
	return ended, nil
}

// Abandon ends an active session without a result.
func (s *MatchmakingService) Abandon(ctx context.Context, userID, sessionID uint) (*models.MatchSession, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	ended, err := s.matchRepo.EndSession(ctx, session.ID, models.MatchAbandoned, nil)
	if err != nil {
		return nil, err
	}
	publishEvent(ctx, s.realtime, EventMatchEnded, ended, ended.PlayerOneID, ended.PlayerTwoID)
	return ended, nil
}

// ExpireStale expires tickets that waited longer than maxAge.
func (s *MatchmakingService) ExpireStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = QueueMaxWait
	}
	return s.matchRepo.ExpireStale(ctx, maxAge)
}

// RunExpiry expires stale tickets every interval until ctx is done.
func (s *MatchmakingService) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.ExpireStale(ctx, QueueMaxWait); err != nil {
				middleware.Logger.WarnContext(ctx, "queue expiry failed", slog.String("error", err.Error()))
			} else if n > 0 {
				middleware.Logger.InfoContext(ctx, "expired stale queue tickets", slog.Int64("count", n))
			}
		}
	}
}

// IsParticipant reports whether userID may join the voice room of an
// active session.
func (s *MatchmakingService) IsParticipant(ctx context.Context, roomID string, userID uint) (bool, error) {
	session, err := s.matchRepo.GetSessionByRoom(ctx, roomID)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return session.Status == models.MatchActive && session.HasPlayer(userID), nil
}

func isNotFound(err error) bool {
	var appErr *models.AppError
	return errors.As(err, &appErr) && appErr.Code == models.CodeNotFound
}
