package logging

import (
	"context"
	"log/slog"
	"time"
)

// Session identifies one generate, replay or ingest invocation in the logs.
type Session struct {
	RunID string
	Mode  string
	Start time.Time
}

func (s Session) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 2)
	if s.RunID != "" {
		attrs = append(attrs, slog.String("run_id", s.RunID))
	}
	if s.Mode != "" {
		attrs = append(attrs, slog.String("mode", s.Mode))
	}
	return attrs
}

// SessionHandler stamps every record with the session's run id and mode,
// and with the wall time elapsed since the session started.
type SessionHandler struct {
	inner slog.Handler
	start time.Time
}

// NewSessionHandler wraps inner for the given session.
func NewSessionHandler(inner slog.Handler, s Session) *SessionHandler {
	if attrs := s.attrs(); len(attrs) > 0 {
		inner = inner.WithAttrs(attrs)
	}
	return &SessionHandler{inner: inner, start: s.Start}
}

func (h *SessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.start.IsZero() && !r.Time.IsZero() {
		r.AddAttrs(slog.Duration("elapsed", r.Time.Sub(h.start).Round(time.Millisecond)))
	}
	return h.inner.Handle(ctx, r)
}

func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SessionHandler{inner: h.inner.WithAttrs(attrs), start: h.start}
}

func (h *SessionHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SessionHandler{inner: h.inner.WithGroup(name), start: h.start}
}
