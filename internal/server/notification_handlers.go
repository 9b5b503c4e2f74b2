package server

import (
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetNotifications handles GET /api/notifications?unread=true
func (s *Server) GetNotifications(c *fiber.Ctx) error {
	page := parsePagination(c, 30)
	list, err := s.notificationService.List(c.UserContext(), currentUserID(c), c.QueryBool("unread", false), page.Limit, page.Offset)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(list)
}

// GetUnreadCount handles GET /api/notifications/unread-count
func (s *Server) GetUnreadCount(c *fiber.Ctx) error {
	n, err := s.notificationService.UnreadCount(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// MarkNotificationRead handles POST /api/notifications/:id/read
func (s *Server) MarkNotificationRead(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.notificationService.MarkRead(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllNotificationsRead handles POST /api/notifications/read-all
func (s *Server) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := s.notificationService.MarkAllRead(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// RegisterPush handles POST /api/push/subscriptions
func (s *Server) RegisterPush(c *fiber.Ctx) error {
	var req service.RegisterPushInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	req.UserID = currentUserID(c)
	if req.UserAgent == "" {
		req.UserAgent = c.Get(fiber.HeaderUserAgent)
		if len(req.UserAgent) > 255 {
			req.UserAgent = req.UserAgent[:255]
		}
	}

	sub, err := s.pushService.Register(c.UserContext(), req)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// UnregisterPush handles DELETE /api/push/subscriptions with {"token": "..."}.
func (s *Server) UnregisterPush(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token" validate:"required"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.pushService.Unregister(c.UserContext(), currentUserID(c), req.Token); err != nil {
		return models.RespondAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SendTestPush handles POST /api/push/test
func (s *Server) SendTestPush(c *fiber.Ctx) error {
	res, err := s.pushService.SendTest(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(res)
}
