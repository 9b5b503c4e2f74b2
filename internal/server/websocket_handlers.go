package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	voicePongWait   = 60 * time.Second
	voicePingPeriod = (voicePongWait * 9) / 10
	voiceReadLimit  = 16384

	typingRateLimit  = 10
	typingRateWindow = 10 * time.Second
)

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID uint   `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// WebsocketHandler serves /api/ws, the per-user realtime event stream.
// Clients may send typing indicators on it; everything else flows
// server to client.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)
		if userID == 0 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket register failed",
				slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(_ *notifications.Client, message []byte) {
			s.handleInbound(userID, message)
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func (s *Server) handleInbound(userID uint, message []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		return
	}

	switch frame.Type {
	case "typing":
		if frame.ConversationID == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		id := "user:" + strconv.FormatUint(uint64(userID), 10)
		allowed, _ := middleware.CheckRateLimit(ctx, s.redis, "typing", id, typingRateLimit, typingRateWindow)
		if !allowed {
			return
		}
		if err := s.chatService.Typing(ctx, userID, frame.ConversationID, frame.IsTyping); err != nil {
			middleware.Logger.Debug("typing indicator rejected",
				slog.Uint64("user_id", uint64(userID)), slog.String("error", err.Error()))
		}
	case "ping":
		// Application-level keepalive; the read itself refreshed presence.
	}
}

// VoiceHandler serves /api/ws/voice?room=<room_id>. Only the players of an
// active match session may join its room.
func (s *Server) VoiceHandler() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)
		roomID, _ := conn.Locals("voiceRoom").(string)
		username, _ := conn.Locals("voiceUsername").(string)
		s.serveVoice(conn, roomID, userID, username)
	})

	return func(c *fiber.Ctx) error {
		roomID := c.Query("room")
		if roomID == "" {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("room is required"))
		}
		userID := currentUserID(c)
		ctx := c.UserContext()

		ok, err := s.matchmakingService.IsParticipant(ctx, roomID, userID)
		if err != nil {
			return models.RespondAppError(c, err)
		}
		if !ok {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Not a player in this match"))
		}

		user, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			return models.RespondAppError(c, err)
		}
		c.Locals("voiceRoom", roomID)
		c.Locals("voiceUsername", user.Username)
		return upgrade(c)
	}
}

func (s *Server) serveVoice(conn *websocket.Conn, roomID string, userID uint, username string) {
	ctx, cancel := context.WithCancel(s.shutdownCtx)
	defer cancel()

	if err := s.voiceHub.Join(ctx, roomID, userID, username, conn); err != nil {
		if !errors.Is(err, notifications.ErrRoomFull) && !errors.Is(err, notifications.ErrTooManyRooms) {
			middleware.Logger.Warn("voice join failed",
				slog.String("room_id", roomID), slog.String("error", err.Error()))
		}
		_ = conn.Close()
		return
	}
	defer s.voiceHub.Leave(context.Background(), roomID, userID, conn)

	conn.SetReadLimit(voiceReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(voicePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(voicePongWait))
	})

	go func() {
		ticker := time.NewTicker(voicePingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// WriteControl may run concurrently with the hub's writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.voiceHub.Handle(ctx, roomID, userID, raw)
	}
}
