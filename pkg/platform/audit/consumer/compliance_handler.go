package consumer

import (
	"context"
	"fmt"
	"log/slog"

	audit "safemodel/pkg/platform/audit"
)

// ComplianceHandler archives fits and release verdicts. Store failures are
// returned so the record is redelivered; nothing is dropped silently.
type ComplianceHandler struct {
	store  audit.Store
	logger *slog.Logger
}

func NewComplianceHandler(store audit.Store, logger *slog.Logger) *ComplianceHandler {
	return &ComplianceHandler{store: store, logger: logger}
}

func (h *ComplianceHandler) HandleEvent(ctx context.Context, event audit.Event) error {
	if event.SessionID.IsNil() {
		h.logger.ErrorContext(ctx, "CRITICAL: compliance event missing session",
			"event_id", event.ID,
			"action", event.Action,
		)
		return nil
	}
	if event.Action == string(audit.EventReleaseEvaluated) && event.Decision == "" {
		h.logger.ErrorContext(ctx, "CRITICAL: release event missing decision",
			"event_id", event.ID,
			"session_id", event.SessionID,
		)
		return nil
	}
	if err := h.store.Append(ctx, event); err != nil {
		return fmt.Errorf("archive compliance event %s: %w", event.ID, err)
	}
	h.logger.DebugContext(ctx, "archived compliance event",
		"event_id", event.ID,
		"action", event.Action,
		"session_id", event.SessionID,
	)
	return nil
}
