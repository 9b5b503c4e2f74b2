package server

import (
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// EnqueueMatch handles POST /api/matchmaking/queue with {"game_id": N}.
func (s *Server) EnqueueMatch(c *fiber.Ctx) error {
	var req struct {
		GameID uint `json:"game_id" validate:"required"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	ticket, err := s.matchmakingService.Enqueue(c.UserContext(), currentUserID(c), req.GameID)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(ticket)
}

// GetMatchTicket handles GET /api/matchmaking/queue
func (s *Server) GetMatchTicket(c *fiber.Ctx) error {
	ticket, err := s.matchmakingService.Ticket(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(ticket)
}

// CancelMatch handles DELETE /api/matchmaking/queue
func (s *Server) CancelMatch(c *fiber.Ctx) error {
	cancelled, err := s.matchmakingService.Cancel(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}

// GetMatchSession handles GET /api/matchmaking/sessions/:id
func (s *Server) GetMatchSession(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	session, err := s.matchmakingService.GetSession(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(session)
}

// FinishMatch handles POST /api/matchmaking/sessions/:id/finish. An absent
// winner_id records a draw.
func (s *Server) FinishMatch(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		WinnerID *uint `json:"winner_id"`
	}
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return nil
		}
	}

	session, err := s.matchmakingService.Finish(c.UserContext(), service.FinishMatchInput{
		UserID:    currentUserID(c),
		SessionID: id,
		WinnerID:  req.WinnerID,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(session)
}

// AbandonMatch handles POST /api/matchmaking/sessions/:id/abandon
func (s *Server) AbandonMatch(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	session, err := s.matchmakingService.Abandon(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(session)
}
