package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Log keys stamped by RunHandler.
const (
	keyTraceID = "trace_id"
	keySpanID  = "span_id"
	keyService = "service"
	keyEnv     = "env"
	keyMode    = "mode"
	keyRunID   = "run_id"
)

// RunHandler is an [slog.Handler] that labels every record with the
// invocation it belongs to (service, mode, env, run_id) and, when the
// record's context carries a span, with its trace_id and span_id.
type RunHandler struct {
	next slog.Handler
}

// NewRunHandler wraps next with the identity described by cfg. The identity
// is bound before any group is opened, so it stays top level. Empty env and
// run id are omitted.
func NewRunHandler(next slog.Handler, cfg Config) *RunHandler {
	identity := make([]slog.Attr, 0, 4)
	identity = append(identity,
		slog.String(keyService, cfg.ServiceName),
		slog.String(keyMode, string(cfg.Mode)),
	)

	if cfg.Environment != "" {
		identity = append(identity, slog.String(keyEnv, cfg.Environment))
	}

	if cfg.RunID != "" {
		identity = append(identity, slog.String(keyRunID, cfg.RunID))
	}

	return &RunHandler{next: next.WithAttrs(identity)}
}

// Enabled implements slog.Handler.
func (h *RunHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RunHandler) Handle(ctx context.Context, record slog.Record) error {
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		record.AddAttrs(
			slog.String(keyTraceID, span.TraceID().String()),
			slog.String(keySpanID, span.SpanID().String()),
		)
	}

	err := h.next.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("log %q: %w", record.Message, err)
	}

	return nil
}

// WithAttrs implements slog.Handler.
func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RunHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *RunHandler) WithGroup(name string) slog.Handler {
	return &RunHandler{next: h.next.WithGroup(name)}
}
