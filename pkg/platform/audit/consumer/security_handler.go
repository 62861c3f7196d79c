package consumer

import (
	"context"
	"fmt"
	"log/slog"

	audit "safemodel/pkg/platform/audit"
)

// SecurityHandler archives rejected-credential events.
type SecurityHandler struct {
	store  audit.Store
	logger *slog.Logger
}

func NewSecurityHandler(store audit.Store, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{store: store, logger: logger}
}

func (h *SecurityHandler) HandleEvent(ctx context.Context, event audit.Event) error {
	if err := h.store.Append(ctx, event); err != nil {
		return fmt.Errorf("archive security event %s: %w", event.ID, err)
	}
	return nil
}
