package service

import (
	"context"
	"fmt"
	"strings"

	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/validation"
)

const maxCommentLen = 1000

type CommentService struct {
	commentRepo  repository.CommentRepository
	gameRepo     repository.GameRepository
	notifier     Notifier
	achievements Evaluator
	isAdmin      AdminCheck
}

type CreateCommentInput struct {
	UserID  uint
	GameID  uint
	Content string
	GifURL  string
}

type UpdateCommentInput struct {
	UserID    uint
	GameID    uint
	CommentID uint
	Content   string
}

type DeleteCommentInput struct {
	UserID    uint
	GameID    uint
	CommentID uint
}

func NewCommentService(
	commentRepo repository.CommentRepository,
	gameRepo repository.GameRepository,
	notifier Notifier,
	achievements Evaluator,
	isAdmin AdminCheck,
) *CommentService {
	return &CommentService{
		commentRepo:  commentRepo,
		gameRepo:     gameRepo,
		notifier:     notifier,
		achievements: achievements,
		isAdmin:      isAdmin,
	}
}

func validateCommentContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return models.NewValidationError("Content is required")
	}
	if len([]rune(content)) > maxCommentLen {
		return models.NewValidationError(fmt.Sprintf("Comment too long (max %d characters)", maxCommentLen))
	}
	return nil
}

// publishedGame loads a game that accepts comments.
func (s *CommentService) publishedGame(ctx context.Context, gameID, viewerID uint) (*models.Game, error) {
	game, err := s.gameRepo.GetByID(ctx, gameID, viewerID)
	if err != nil {
		return nil, err
	}
	if !game.IsPublished() && game.UserID != viewerID {
		return nil, models.NewNotFoundError("Game", gameID)
	}
	return game, nil
}

func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	if err := validateCommentContent(in.Content); err != nil {
		return nil, err
	}
	gif := strings.TrimSpace(in.GifURL)
	if gif != "" && !validation.IsHTTPSURL(gif) {
		return nil, models.NewValidationError("gif_url must be an https URL")
	}

	game, err := s.publishedGame(ctx, in.GameID, in.UserID)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		GameID:  in.GameID,
		UserID:  in.UserID,
		Content: strings.TrimSpace(in.Content),
		GifURL:  gif,
	}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, NotifyInput{
		UserID:   game.UserID,
		ActorID:  in.UserID,
		Type:     models.NotificationComment,
		EntityID: game.ID,
		Body:     fmt.Sprintf("New comment on %q: %s", game.Title, truncate(comment.Content, 120)),
	})
	evaluate(ctx, s.achievements, in.UserID, MetricCommentsWritten)

	return s.commentRepo.GetByID(ctx, comment.ID)
}

func (s *CommentService) ListComments(ctx context.Context, gameID, viewerID uint, limit, offset int) ([]*models.Comment, error) {
	if _, err := s.publishedGame(ctx, gameID, viewerID); err != nil {
		return nil, err
	}
	return s.commentRepo.ListByGame(ctx, gameID, limit, offset)
}

func (s *CommentService) getForGame(ctx context.Context, gameID, commentID uint) (*models.Comment, error) {
	comment, err := s.commentRepo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if gameID != 0 && comment.GameID != gameID {
		return nil, models.NewNotFoundError("Comment", commentID)
	}
	return comment, nil
}

func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	comment, err := s.getForGame(ctx, in.GameID, in.CommentID)
	if err != nil {
		return nil, err
	}
	if comment.UserID != in.UserID {
		return nil, models.NewForbiddenError("You can only update your own comments")
	}
	if err := validateCommentContent(in.Content); err != nil {
		return nil, err
	}

	comment.Content = strings.TrimSpace(in.Content)
	if err := s.commentRepo.Update(ctx, comment); err != nil {
		return nil, err
	}
	return s.commentRepo.GetByID(ctx, comment.ID)
}

// DeleteComment allows the author, the game's owner or an admin.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (*models.Comment, error) {
	comment, err := s.getForGame(ctx, in.GameID, in.CommentID)
	if err != nil {
		return nil, err
	}

	if comment.UserID != in.UserID {
		allowed := false
		if game, err := s.gameRepo.GetByID(ctx, comment.GameID, in.UserID); err == nil && game.UserID == in.UserID {
			allowed = true
		}
		if !allowed {
			admin, err := checkAdmin(ctx, s.isAdmin, in.UserID)
			if err != nil {
				return nil, err
			}
			allowed = admin
		}
		if !allowed {
			return nil, models.NewForbiddenError("You can only delete your own comments")
		}
	}

	if err := s.commentRepo.Delete(ctx, comment.ID); err != nil {
		return nil, err
	}
	return comment, nil
}
