// Package observability provides logging helpers, metrics and tracing.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var logger = slog.Default()

// SetLogger routes this package's log lines through l.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

type ctxKey struct{}

// GenerateCorrelationID returns a fresh ID for a background operation.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID stores id on ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// ExtractCorrelationID returns the ID stored by WithCorrelationID, or "".
func ExtractCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Operation logs the start and outcome of one unit of background work
// under a shared correlation ID.
type Operation struct {
	ctx   context.Context
	name  string
	start time.Time
	attrs []any
}

// StartOperation logs the start of name. The returned context carries the
// correlation ID, minting one if ctx has none.
func StartOperation(ctx context.Context, name string, attrs ...any) (context.Context, *Operation) {
	id := ExtractCorrelationID(ctx)
	if id == "" {
		id = GenerateCorrelationID()
		ctx = WithCorrelationID(ctx, id)
	}
	op := &Operation{
		ctx:   ctx,
		name:  name,
		start: time.Now(),
		attrs: append([]any{slog.String("operation", name), slog.String("correlation_id", id)}, attrs...),
	}
	logger.InfoContext(ctx, "operation started", op.attrs...)
	return ctx, op
}

// Done logs success with the elapsed time.
func (o *Operation) Done(attrs ...any) {
	logger.InfoContext(o.ctx, "operation completed", o.with(attrs)...)
}

// Fail logs err with the elapsed time.
func (o *Operation) Fail(err error, attrs ...any) {
	attrs = append(attrs, slog.String("error", err.Error()))
	logger.ErrorContext(o.ctx, "operation failed", o.with(attrs)...)
}

func (o *Operation) with(extra []any) []any {
	out := make([]any, 0, len(o.attrs)+len(extra)+1)
	out = append(out, o.attrs...)
	out = append(out, slog.Int64("duration_ms", time.Since(o.start).Milliseconds()))
	return append(out, extra...)
}

// HubLogger logs WebSocket hub events with the hub name attached.
type HubLogger struct {
	l *slog.Logger
}

// NewHubLogger returns a logger for the named hub.
func NewHubLogger(hub string) *HubLogger {
	return &HubLogger{l: logger.With(slog.String("hub", hub))}
}

func (h *HubLogger) Connect(ctx context.Context, userID uint, room string) {
	h.l.InfoContext(ctx, "websocket connected", slog.Uint64("user_id", uint64(userID)), slog.String("room", room))
}

func (h *HubLogger) Disconnect(ctx context.Context, userID uint, room, reason string) {
	h.l.InfoContext(ctx, "websocket disconnected",
		slog.Uint64("user_id", uint64(userID)), slog.String("room", room), slog.String("reason", reason))
}

func (h *HubLogger) Error(ctx context.Context, userID uint, room string, err error, eventType string) {
	if err == nil {
		return
	}
	h.l.WarnContext(ctx, "websocket error",
		slog.Uint64("user_id", uint64(userID)), slog.String("room", room),
		slog.String("event_type", eventType), slog.String("error", err.Error()))
}

func (h *HubLogger) Lifecycle(ctx context.Context, event string, attrs ...any) {
	h.l.InfoContext(ctx, "websocket hub "+event, attrs...)
}
