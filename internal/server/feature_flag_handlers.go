package server

import (
	"log/slog"

	"playforge/internal/middleware"
	"playforge/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetFeatureFlags handles GET /api/admin/feature-flags: configured values
// plus their evaluation for the calling admin.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(currentUserID(c)),
	})
}

// SetFeatureFlag handles PUT /api/admin/feature-flags/:name with a body of
// {"value": "on|off|N%"}. The override lasts until the process restarts.
func (s *Server) SetFeatureFlag(c *fiber.Ctx) error {
	var req struct {
		Value string `json:"value" validate:"required,max=16"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	name := c.Params("name")
	if err := s.featureFlags.Set(name, req.Value); err != nil {
		return models.RespondAppError(c, models.NewValidationError(err.Error()))
	}
	middleware.Logger.InfoContext(c.UserContext(), "feature flag updated",
		slog.String("flag", name), slog.String("value", req.Value), slog.Uint64("admin_id", uint64(currentUserID(c))))
	return c.JSON(fiber.Map{
		"raw":       s.featureFlags.Raw(),
		"evaluated": s.featureFlags.Snapshot(currentUserID(c)),
	})
}

// GetMyFeatureFlags handles GET /api/feature-flags
func (s *Server) GetMyFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(s.featureFlags.Snapshot(currentUserID(c)))
}

// BanUser handles POST /api/admin/users/:id/ban. Tokens the user already
// holds stop working immediately.
func (s *Server) BanUser(c *fiber.Ctx) error {
	return s.setBanned(c, true)
}

// UnbanUser handles POST /api/admin/users/:id/unban
func (s *Server) UnbanUser(c *fiber.Ctx) error {
	return s.setBanned(c, false)
}

func (s *Server) setBanned(c *fiber.Ctx, banned bool) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if banned && id == currentUserID(c) {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Admins cannot ban themselves"))
	}

	ctx := c.UserContext()
	user, err := s.userService.SetBanned(ctx, id, banned)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	s.markBanned(ctx, id, banned)
	if banned {
		s.publishUserEvent(id, EventAccountBanned, map[string]interface{}{"user_id": id})
	}
	return c.JSON(user)
}
