package notifications

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10 // must stay under pongWait

	// SDP offers are the largest frames a peer sends.
	maxMessageSize = 16384

	sendBuffer = 256
)

// Conn is the part of a WebSocket connection the pumps use. Fiber's
// websocket.Conn satisfies it, as does gorilla's.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// WSHub is implemented by hubs that own clients.
type WSHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is one player's socket on a hub. Outbound frames queue on Send
// and are written by WritePump; ReadPump hands inbound frames to
// IncomingHandler.
type Client struct {
	Hub    WSHub
	Conn   Conn
	UserID uint

	Send chan []byte

	IncomingHandler func(*Client, []byte)
	// OnActivity runs on every inbound frame, pongs included.
	OnActivity func(userID uint)

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewClient(hub WSHub, conn Conn, userID uint) *Client {
	return &Client{
		Hub:    hub,
		Conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Close ends WritePump. Later TrySend calls are ignored.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Dropped is the number of frames discarded since the peer was last told.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// TrySend queues message without blocking. A full buffer drops the frame;
// WritePump later tells the peer how many it missed so it can refetch.
func (c *Client) TrySend(message []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hub := c.Hub.Name()
	if c.closed {
		observability.WebSocketBackpressureDrops.WithLabelValues(hub, "closed").Inc()
		return
	}
	select {
	case c.Send <- message:
		observability.WebSocketEventsTotal.WithLabelValues(hub, "outbound").Inc()
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(hub, "full").Inc()
		if c.dropped.Add(1) == 1 {
			middleware.Logger.Warn("websocket buffer full, dropping frames",
				slog.String("hub", hub), slog.Uint64("user_id", uint64(c.UserID)))
		}
	}
}

func dropNotice(n int64) []byte {
	return fmt.Appendf(nil, `{"type":"messages_dropped","payload":{"reason":"buffer_full","count":%d}}`, n)
}

func (c *Client) touch() {
	if c.OnActivity != nil {
		c.OnActivity(c.UserID)
	}
}

// ReadPump reads until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				middleware.Logger.Debug("websocket read failed",
					slog.String("hub", c.Hub.Name()),
					slog.Uint64("user_id", uint64(c.UserID)),
					slog.String("error", err.Error()))
			}
			return
		}
		c.touch()
		observability.WebSocketEventsTotal.WithLabelValues(c.Hub.Name(), "inbound").Inc()
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// WritePump drains Send to the connection and pings every pingPeriod. It
// returns when Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
			if n := c.dropped.Swap(0); n > 0 {
				if err := c.write(websocket.TextMessage, dropNotice(n)); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
