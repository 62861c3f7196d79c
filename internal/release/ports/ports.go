// Package ports declares what the release service needs from the rest of the
// system, so the service can be tested against mocks.
package ports

//go:generate mockgen -source=ports.go -destination=../mocks/mocks.go -package=mocks

import (
	"context"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	"safemodel/internal/snapshot/store"
	"safemodel/internal/training"
	id "safemodel/pkg/domain"
	audit "safemodel/pkg/platform/audit"
)

// Session is the model under evaluation.
type Session interface {
	ID() id.SessionID
	ReleaseState(ctx context.Context) (training.State, error)
}

// SnapshotStore persists captures by stage and the post-fit provenance.
type SnapshotStore interface {
	Put(ctx context.Context, session id.SessionID, stage store.Stage, snap snapshot.Snapshot) error
	Get(ctx context.Context, session id.SessionID, stage store.Stage) (snapshot.Snapshot, error)
	GetProvenance(ctx context.Context, session id.SessionID) (optimizer.Provenance, error)
}

// AuditPort persists release verdicts. It must fail closed.
type AuditPort interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}
