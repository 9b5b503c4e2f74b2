package service

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/repository"

	"gopkg.in/yaml.v3"
)

// Achievement metrics.
const (
	MetricGamesPublished  = "games_published"
	MetricLikesReceived   = "likes_received"
	MetricFollowers       = "followers"
	MetricMatchesWon      = "matches_won"
	MetricPlaysReceived   = "plays_received"
	MetricCommentsWritten = "comments_written"
)

//go:embed catalogue/achievements.yaml
var achievementsYAML []byte

var (
	catalogueOnce sync.Once
	catalogue     []models.Achievement
	catalogueErr  error
)

// Catalogue returns every achievement definition.
func Catalogue() ([]models.Achievement, error) {
	catalogueOnce.Do(func() {
		catalogueErr = yaml.Unmarshal(achievementsYAML, &catalogue)
	})
	return catalogue, catalogueErr
}

type AchievementService struct {
	achievementRepo repository.AchievementRepository
	gameRepo        repository.GameRepository
	followRepo      repository.FollowRepository
	matchRepo       repository.MatchRepository
	commentRepo     repository.CommentRepository
	notifier        Notifier
}

func NewAchievementService(
	achievementRepo repository.AchievementRepository,
	gameRepo repository.GameRepository,
	followRepo repository.FollowRepository,
	matchRepo repository.MatchRepository,
	commentRepo repository.CommentRepository,
	notifier Notifier,
) *AchievementService {
	return &AchievementService{
		achievementRepo: achievementRepo,
		gameRepo:        gameRepo,
		followRepo:      followRepo,
		matchRepo:       matchRepo,
		commentRepo:     commentRepo,
		notifier:        notifier,
	}
}

func (s *AchievementService) count(ctx context.Context, userID uint, metric string) (int64, error) {
	switch metric {
	case MetricGamesPublished:
		return s.gameRepo.CountPublished(ctx, userID)
	case MetricLikesReceived:
		return s.gameRepo.CountLikesReceived(ctx, userID)
	case MetricPlaysReceived:
		return s.gameRepo.SumPlaysReceived(ctx, userID)
	case MetricFollowers:
		return s.followRepo.CountFollowers(ctx, userID)
	case MetricMatchesWon:
		return s.matchRepo.CountWins(ctx, userID)
	case MetricCommentsWritten:
		return s.commentRepo.CountByUser(ctx, userID)
	default:
		return 0, models.NewValidationError(fmt.Sprintf("unknown metric %q", metric))
	}
}

// Evaluate awards every unearned achievement for metric whose threshold the
// user has reached and returns the newly earned ones.
func (s *AchievementService) Evaluate(ctx context.Context, userID uint, metric string) ([]models.Achievement, error) {
	defs, err := Catalogue()
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	value, err := s.count(ctx, userID, metric)
	if err != nil {
		return nil, err
	}

	var awarded []models.Achievement
	for _, a := range defs {
		if a.Metric != metric || value < a.Threshold {
			continue
		}
		created, err := s.achievementRepo.Award(ctx, userID, a.Code, a.RewardCoins)
		if err != nil {
			return awarded, err
		}
		if !created {
			continue
		}
		a.Earned = true
		awarded = append(awarded, a)
		middleware.Logger.InfoContext(ctx, "achievement awarded",
			slog.Uint64("user_id", uint64(userID)), slog.String("code", a.Code))
		notify(ctx, s.notifier, NotifyInput{
			UserID: userID,
			Type:   models.NotificationAchievement,
			Body:   fmt.Sprintf("Achievement unlocked: %s (+%d coins)", a.Name, a.RewardCoins),
			Data:   map[string]string{"code": a.Code},
		})
	}
	return awarded, nil
}

// List returns the catalogue with the user's earned flags set.
func (s *AchievementService) List(ctx context.Context, userID uint) ([]models.Achievement, error) {
	defs, err := Catalogue()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	earned, err := s.achievementRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]models.UserAchievement, len(earned))
	for _, e := range earned {
		byCode[e.Code] = e
	}

	out := make([]models.Achievement, len(defs))
	for i, a := range defs {
		if e, ok := byCode[a.Code]; ok {
			a.Earned = true
			at := e.AwardedAt
			a.EarnedAt = &at
		}
		out[i] = a
	}
	return out, nil
}
