// Package consumer archives audit events read back off the audit topic.
// The relay publishes every category to one topic; the Router decodes each
// record and hands it to the handler for its category, which decides how
// strictly it is treated.
package consumer

import (
	"context"
	"log/slog"

	"safemodel/internal/platform/kafka"
	audit "safemodel/pkg/platform/audit"
)

// CategoryHandler archives decoded events of one category.
type CategoryHandler interface {
	HandleEvent(ctx context.Context, event audit.Event) error
}

// Router dispatches messages by event category.
type Router struct {
	handlers map[audit.EventCategory]CategoryHandler
	logger   *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		handlers: make(map[audit.EventCategory]CategoryHandler),
		logger:   logger,
	}
}

// NewArchiveRouter registers the three category handlers over one store.
func NewArchiveRouter(store audit.Store, logger *slog.Logger) *Router {
	r := NewRouter(logger)
	r.Register(audit.CategoryCompliance, NewComplianceHandler(store, logger))
	r.Register(audit.CategorySecurity, NewSecurityHandler(store, logger))
	r.Register(audit.CategoryOperations, NewOpsHandler(store, logger))
	return r
}

// Register adds the handler for a category.
func (r *Router) Register(category audit.EventCategory, handler CategoryHandler) {
	r.handlers[category] = handler
}

// Handle decodes the message and routes it. Undecodable messages and
// categories without a handler are skipped so they do not block the
// partition.
func (r *Router) Handle(ctx context.Context, msg *kafka.Message) error {
	event, err := audit.DecodeRecord(msg.Value)
	if err != nil {
		r.logger.ErrorContext(ctx, "skipping undecodable audit record",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}
	handler, ok := r.handlers[event.Category]
	if !ok {
		r.logger.WarnContext(ctx, "no handler for audit category, skipping",
			"category", event.Category,
			"event_id", event.ID,
		)
		return nil
	}
	return handler.HandleEvent(ctx, event)
}
