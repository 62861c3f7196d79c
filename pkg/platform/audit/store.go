// Package audit defines the audit trail of the release gate: event models,
// the Store contract, and publishers with per-category delivery guarantees.
package audit

import (
	"context"

	id "safemodel/pkg/domain"
)

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, session id.SessionID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
