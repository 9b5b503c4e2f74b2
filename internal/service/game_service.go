package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"playforge/internal/cache"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/repository"

	"github.com/skip2/go-qrcode"
)

const (
	maxTitleLen       = 120
	maxDescriptionLen = 2000
	maxPromptLen      = 4000
	maxCodeBytes      = 512 * 1024
	maxTags           = 10
	maxTagLen         = 32

	defaultQRSize = 256
	maxQRSize     = 1024
)

// GameService covers the lifecycle of user games: drafts, publishing, the
// feed and the social actions on a game.
type GameService struct {
	gameRepo     repository.GameRepository
	followRepo   repository.FollowRepository
	notifier     Notifier
	achievements Evaluator
	isAdmin      AdminCheck
	publicAppURL string
}

type CreateGameInput struct {
	UserID        uint
	Title         string
	Description   string
	Prompt        string
	Code          string
	Tags          []string
	ThumbnailURL  string
	ThumbnailHash string
	RemixOfID     *uint
}

// UpdateGameInput carries optional edits; nil fields are left unchanged.
type UpdateGameInput struct {
	UserID       uint
	GameID       uint
	Title        *string
	Description  *string
	Code         *string
	Tags         []string
	ThumbnailURL *string
}

type FeedInput struct {
	Sort     string
	Tag      string
	ViewerID uint
	Limit    int
	Offset   int
}

// PlayInput identifies a viewer for play de-duplication. Anonymous viewers
// are keyed by IP.
type PlayInput struct {
	GameID   uint
	ViewerID uint
	IP       string
}

func NewGameService(
	gameRepo repository.GameRepository,
	followRepo repository.FollowRepository,
	notifier Notifier,
	achievements Evaluator,
	isAdmin AdminCheck,
	publicAppURL string,
) *GameService {
	return &GameService{
		gameRepo:     gameRepo,
		followRepo:   followRepo,
		notifier:     notifier,
		achievements: achievements,
		isAdmin:      isAdmin,
		publicAppURL: strings.TrimRight(publicAppURL, "/"),
	}
}

func validateGameFields(title, description, code string, tags []string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.NewValidationError("Title is required")
	}
	if len([]rune(title)) > maxTitleLen {
		return models.NewValidationError(fmt.Sprintf("Title too long (max %d characters)", maxTitleLen))
	}
	if len([]rune(description)) > maxDescriptionLen {
		return models.NewValidationError(fmt.Sprintf("Description too long (max %d characters)", maxDescriptionLen))
	}
	if len(code) > maxCodeBytes {
		return models.NewValidationError("Game code too large (max 512 KiB)")
	}
	return validateTags(tags)
}

func validateTags(tags []string) error {
	tags = models.SplitTags(models.JoinTags(tags))
	if len(tags) > maxTags {
		return models.NewValidationError(fmt.Sprintf("Too many tags (max %d)", maxTags))
	}
	for _, t := range tags {
		if len(t) > maxTagLen {
			return models.NewValidationError(fmt.Sprintf("Tag %q too long (max %d characters)", t, maxTagLen))
		}
	}
	return nil
}

// CreateGame stores a hand-written draft.
func (s *GameService) CreateGame(ctx context.Context, in CreateGameInput) (*models.Game, error) {
	if err := validateGameFields(in.Title, in.Description, in.Code, in.Tags); err != nil {
		return nil, err
	}
	if len([]rune(in.Prompt)) > maxPromptLen {
		return nil, models.NewValidationError(fmt.Sprintf("Prompt too long (max %d characters)", maxPromptLen))
	}

	game := &models.Game{
		UserID:        in.UserID,
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		Prompt:        in.Prompt,
		Code:          in.Code,
		Tags:          models.JoinTags(in.Tags),
		ThumbnailURL:  in.ThumbnailURL,
		ThumbnailHash: in.ThumbnailHash,
		Status:        models.GameStatusDraft,
		RemixOfID:     in.RemixOfID,
	}
	if err := s.gameRepo.Create(ctx, game); err != nil {
		return nil, err
	}
	return s.gameRepo.GetByID(ctx, game.ID, in.UserID)
}

// GetGame returns a game as seen by viewerID. Games that are not published
// only exist for their owner.
func (s *GameService) GetGame(ctx context.Context, id, viewerID uint) (*models.Game, error) {
	game, err := s.gameRepo.GetByID(ctx, id, viewerID)
	if err != nil {
		return nil, err
	}
	if !game.IsPublished() && game.UserID != viewerID {
		return nil, models.NewNotFoundError("Game", id)
	}
	return game, nil
}

func (s *GameService) getOwned(ctx context.Context, id, userID uint, allowAdmin bool) (*models.Game, error) {
	game, err := s.gameRepo.GetByID(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if game.UserID == userID {
		return game, nil
	}
	if allowAdmin {
		admin, err := checkAdmin(ctx, s.isAdmin, userID)
		if err != nil {
			return nil, err
		}
		if admin {
			return game, nil
		}
	}
	if !game.IsPublished() {
		return nil, models.NewNotFoundError("Game", id)
	}
	return nil, models.NewForbiddenError("You can only modify your own games")
}

func (s *GameService) UpdateGame(ctx context.Context, in UpdateGameInput) (*models.Game, error) {
	game, err := s.getOwned(ctx, in.GameID, in.UserID, false)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		game.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		game.Description = strings.TrimSpace(*in.Description)
	}
	if in.Code != nil {
		game.Code = *in.Code
	}
	if in.Tags != nil {
		game.Tags = models.JoinTags(in.Tags)
	}
	if in.ThumbnailURL != nil {
		game.ThumbnailURL = strings.TrimSpace(*in.ThumbnailURL)
	}
	if err := validateGameFields(game.Title, game.Description, game.Code, models.SplitTags(game.Tags)); err != nil {
		return nil, err
	}

	if err := s.gameRepo.Update(ctx, game); err != nil {
		return nil, err
	}
	if game.IsPublished() {
		cache.InvalidateFeeds(ctx)
	}
	return s.gameRepo.GetByID(ctx, game.ID, in.UserID)
}

// Publish makes a draft visible, tells the owner's followers and checks the
// publishing achievements.
func (s *GameService) Publish(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	game, err := s.getOwned(ctx, gameID, userID, false)
	if err != nil {
		return nil, err
	}
	if game.IsPublished() {
		return game, nil
	}
	if strings.TrimSpace(game.Title) == "" || strings.TrimSpace(game.Code) == "" {
		return nil, models.NewValidationError("A game needs a title and code before it can be published")
	}
	firstPublish := game.PublishedAt == nil

	if err := s.gameRepo.SetStatus(ctx, gameID, models.GameStatusPublished); err != nil {
		return nil, err
	}

	if firstPublish {
		s.notifyFollowers(ctx, game)
	}
	evaluate(ctx, s.achievements, userID, MetricGamesPublished)
	return s.gameRepo.GetByID(ctx, gameID, userID)
}

func (s *GameService) notifyFollowers(ctx context.Context, game *models.Game) {
	if s.followRepo == nil || s.notifier == nil {
		return
	}
	ids, err := s.followRepo.FollowerIDs(ctx, game.UserID)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "failed to load followers for new game",
			slog.Uint64("game_id", uint64(game.ID)), slog.String("error", err.Error()))
		return
	}
	body := fmt.Sprintf("%s published %q", game.User.Username, game.Title)
	for _, id := range ids {
		notify(ctx, s.notifier, NotifyInput{
			UserID:   id,
			ActorID:  game.UserID,
			Type:     models.NotificationNewGame,
			EntityID: game.ID,
			Body:     body,
		})
	}
}

// Unpublish moves a game back to draft.
func (s *GameService) Unpublish(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	if _, err := s.getOwned(ctx, gameID, userID, false); err != nil {
		return nil, err
	}
	if err := s.gameRepo.SetStatus(ctx, gameID, models.GameStatusDraft); err != nil {
		return nil, err
	}
	return s.gameRepo.GetByID(ctx, gameID, userID)
}

// Archive hides a game from the feed without deleting it.
func (s *GameService) Archive(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	if _, err := s.getOwned(ctx, gameID, userID, true); err != nil {
		return nil, err
	}
	if err := s.gameRepo.SetStatus(ctx, gameID, models.GameStatusArchived); err != nil {
		return nil, err
	}
	return s.gameRepo.GetByID(ctx, gameID, userID)
}

func (s *GameService) DeleteGame(ctx context.Context, userID, gameID uint) error {
	if _, err := s.getOwned(ctx, gameID, userID, true); err != nil {
		return err
	}
	return s.gameRepo.Delete(ctx, gameID)
}

// Feed lists published games. The first anonymous page of the newest
// games is served from cache.
func (s *GameService) Feed(ctx context.Context, in FeedInput) ([]*models.Game, error) {
	sort := strings.ToLower(strings.TrimSpace(in.Sort))
	if sort == "" {
		sort = repository.SortNew
	}
	switch sort {
	case repository.SortNew, repository.SortHot, repository.SortTop:
	case repository.SortFollowing:
		if in.ViewerID == 0 {
			return nil, models.NewUnauthorizedError("Sign in to see games from people you follow")
		}
	default:
		return nil, models.NewValidationError(fmt.Sprintf("Unknown sort %q", in.Sort))
	}

	q := repository.FeedQuery{
		Sort:     sort,
		Tag:      strings.ToLower(strings.TrimSpace(in.Tag)),
		ViewerID: in.ViewerID,
		Limit:    in.Limit,
		Offset:   in.Offset,
	}

	if sort == repository.SortNew && in.ViewerID == 0 && in.Offset == 0 && q.Tag == "" {
		var games []*models.Game
		err := cache.Aside(ctx, cache.FeedKey(sort, in.Limit), &games, cache.FeedTTL, func() error {
			var err error
			games, err = s.gameRepo.Feed(ctx, q)
			return err
		})
		return games, err
	}
	return s.gameRepo.Feed(ctx, q)
}

func (s *GameService) SearchGames(ctx context.Context, query string, viewerID uint, limit, offset int) ([]*models.Game, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.NewValidationError("Search query is required")
	}
	return s.gameRepo.Search(ctx, query, viewerID, limit, offset)
}

// ListByUser returns a creator's games; drafts are included only for the
// creator themselves.
func (s *GameService) ListByUser(ctx context.Context, userID, viewerID uint, limit, offset int) ([]*models.Game, error) {
	return s.gameRepo.ListByUser(ctx, userID, userID == viewerID, viewerID, limit, offset)
}

// Like is idempotent; only the first like notifies the owner.
func (s *GameService) Like(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	game, err := s.GetGame(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}
	if !game.IsPublished() {
		return nil, models.NewValidationError("Only published games can be liked")
	}

	created, err := s.gameRepo.Like(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}
	if created {
		notify(ctx, s.notifier, NotifyInput{
			UserID:   game.UserID,
			ActorID:  userID,
			Type:     models.NotificationLike,
			EntityID: gameID,
			Body:     fmt.Sprintf("Someone liked %q", game.Title),
		})
		evaluate(ctx, s.achievements, game.UserID, MetricLikesReceived)
	}
	return s.gameRepo.GetByID(ctx, gameID, userID)
}

func (s *GameService) Unlike(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	if _, err := s.GetGame(ctx, gameID, userID); err != nil {
		return nil, err
	}
	if _, err := s.gameRepo.Unlike(ctx, userID, gameID); err != nil {
		return nil, err
	}
	return s.gameRepo.GetByID(ctx, gameID, userID)
}

// RecordPlay counts a play once per viewer per game per hour. It reports
// whether this call was counted.
func (s *GameService) RecordPlay(ctx context.Context, in PlayInput) (bool, error) {
	game, err := s.GetGame(ctx, in.GameID, in.ViewerID)
	if err != nil {
		return false, err
	}
	if !game.IsPublished() {
		return false, nil
	}

	viewer := fmt.Sprintf("u%d", in.ViewerID)
	if in.ViewerID == 0 {
		if in.IP == "" {
			return false, nil
		}
		viewer = "ip" + in.IP
	}
	if !cache.SetOnce(ctx, cache.PlayKey(in.GameID, viewer), cache.PlayTTL) {
		return false, nil
	}

	if err := s.gameRepo.IncrementPlayCount(ctx, in.GameID); err != nil {
		return false, err
	}
	if in.ViewerID != game.UserID {
		evaluate(ctx, s.achievements, game.UserID, MetricPlaysReceived)
	}
	return true, nil
}

// Remix copies a published game into a new draft owned by userID.
func (s *GameService) Remix(ctx context.Context, userID, gameID uint) (*models.Game, error) {
	src, err := s.GetGame(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}

	title := "Remix of " + src.Title
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen])
	}
	srcID := src.ID
	return s.CreateGame(ctx, CreateGameInput{
		UserID:       userID,
		Title:        title,
		Description:  src.Description,
		Prompt:       src.Prompt,
		Code:         src.Code,
		Tags:         src.TagList,
		ThumbnailURL: src.ThumbnailURL,
		RemixOfID:    &srcID,
	})
}

// ShareURL is the public link encoded in share QR codes.
func (s *GameService) ShareURL(gameID uint) string {
	return fmt.Sprintf("%s/games/%d", s.publicAppURL, gameID)
}

// ShareQR renders a PNG QR code linking to a published game.
func (s *GameService) ShareQR(ctx context.Context, gameID uint, size int) ([]byte, error) {
	game, err := s.GetGame(ctx, gameID, 0)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = defaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	qr, err := qrcode.New(s.ShareURL(game.ID), qrcode.Medium)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return png, nil
}
