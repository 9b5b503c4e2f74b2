package server

import (
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

type commentRequest struct {
	Content string `json:"content" validate:"max=2000"`
	GifURL  string `json:"gif_url" validate:"omitempty,max=500"`
}

// GetComments handles GET /api/games/:id/comments
func (s *Server) GetComments(c *fiber.Ctx) error {
	gameID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	page := parsePagination(c, 50)

	comments, err := s.commentService.ListComments(c.UserContext(), gameID, currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(comments)
}

// CreateComment handles POST /api/games/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	gameID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	created, err := s.commentService.CreateComment(c.UserContext(), service.CreateCommentInput{
		UserID:  currentUserID(c),
		GameID:  gameID,
		Content: req.Content,
		GifURL:  req.GifURL,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}

	s.publishBroadcastEvent(EventCommentCreated, map[string]interface{}{
		"game_id": gameID,
		"comment": created,
	})
	return c.Status(fiber.StatusCreated).JSON(created)
}

// UpdateComment handles PUT /api/games/:id/comments/:commentId
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	gameID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	updated, err := s.commentService.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		UserID:    currentUserID(c),
		GameID:    gameID,
		CommentID: commentID,
		Content:   req.Content,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}

	s.publishBroadcastEvent(EventCommentUpdated, map[string]interface{}{
		"game_id": gameID,
		"comment": updated,
	})
	return c.JSON(updated)
}

// DeleteComment handles DELETE /api/games/:id/comments/:commentId. Owners of
// the comment, owners of the game and admins may delete.
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	gameID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	commentID, err := s.parseID(c, "commentId")
	if err != nil {
		return nil
	}

	if _, err := s.commentService.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		UserID:    currentUserID(c),
		GameID:    gameID,
		CommentID: commentID,
	}); err != nil {
		return models.RespondAppError(c, err)
	}

	s.publishBroadcastEvent(EventCommentDeleted, map[string]interface{}{
		"game_id":    gameID,
		"comment_id": commentID,
	})
	return c.SendStatus(fiber.StatusNoContent)
}
