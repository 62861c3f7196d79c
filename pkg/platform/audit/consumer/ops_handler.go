package consumer

import (
	"context"
	"log/slog"

	audit "safemodel/pkg/platform/audit"
)

// OpsHandler archives operational events on a best-effort basis: a store
// failure is logged and the record is committed anyway.
type OpsHandler struct {
	store  audit.Store
	logger *slog.Logger
}

func NewOpsHandler(store audit.Store, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{store: store, logger: logger}
}

func (h *OpsHandler) HandleEvent(ctx context.Context, event audit.Event) error {
	if err := h.store.Append(ctx, event); err != nil {
		h.logger.DebugContext(ctx, "failed to archive ops event",
			"event_id", event.ID,
			"action", event.Action,
			"error", err,
		)
	}
	return nil
}
