package server

import (
	"playforge/internal/featureflags"
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RequestGeneration handles POST /api/generate/game. The Idempotency-Key
// header makes retries safe: the same key returns the original job without
// charging again.
func (s *Server) RequestGeneration(c *fiber.Ctx) error {
	if !s.ai.GameEnabled() {
		return models.RespondAppError(c, models.NewFeatureDisabledError(featureflags.AIGeneration))
	}

	var req struct {
		Prompt    string `json:"prompt" validate:"required"`
		RemixOfID *uint  `json:"remix_of_id"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	job, created, err := s.generationService.RequestGame(c.UserContext(), service.RequestGameInput{
		UserID:         currentUserID(c),
		Prompt:         req.Prompt,
		RemixOfID:      req.RemixOfID,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(job)
}

// GetGenerationJob handles GET /api/generate/jobs/:id
func (s *Server) GetGenerationJob(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	job, err := s.generationService.GetJob(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(job)
}
