package server

import (
	"playforge/internal/models"
	"playforge/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetConversations handles GET /api/conversations
func (s *Server) GetConversations(c *fiber.Ctx) error {
	page := parsePagination(c, 30)
	convs, err := s.chatService.ListConversations(c.UserContext(), currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(convs)
}

// CreateConversation handles POST /api/conversations. It returns the
// existing conversation with user_id when there is one.
func (s *Server) CreateConversation(c *fiber.Ctx) error {
	var req struct {
		UserID uint `json:"user_id" validate:"required"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	conv, err := s.chatService.OpenConversation(c.UserContext(), currentUserID(c), req.UserID)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(conv)
}

// GetMessages handles GET /api/conversations/:id/messages?before=<id>&limit=N
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	before := c.QueryInt("before", 0)
	if before < 0 {
		before = 0
	}
	page := parsePagination(c, 50)

	msgs, err := s.chatService.ListMessages(c.UserContext(), currentUserID(c), convID, uint(before), page.Limit)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(msgs)
}

// SendMessage handles POST /api/conversations/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req struct {
		Content string `json:"content"`
		GifURL  string `json:"gif_url"`
	}
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.chatService.SendMessage(c.UserContext(), service.SendMessageInput{
		UserID:         currentUserID(c),
		ConversationID: convID,
		Content:        req.Content,
		GifURL:         req.GifURL,
	})
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkConversationRead handles POST /api/conversations/:id/read
func (s *Server) MarkConversationRead(c *fiber.Ctx) error {
	convID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	n, err := s.chatService.MarkRead(c.UserContext(), currentUserID(c), convID)
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"marked": n})
}

// GetChatUnread handles GET /api/conversations/unread-count
func (s *Server) GetChatUnread(c *fiber.Ctx) error {
	n, err := s.chatService.UnreadTotal(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondAppError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}
