// Package store persists the two snapshots a session needs at release time,
// POST_FIT and PRE_RELEASE, plus the provenance recorded when the fit
// completed. Each (session, stage) holds at most one snapshot; Put replaces.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"safemodel/internal/optimizer"
	"safemodel/internal/snapshot"
	id "safemodel/pkg/domain"
	dErrors "safemodel/pkg/domain-errors"
)

// Stage labels when a snapshot was captured.
type Stage string

const (
	StagePostFit    Stage = "post_fit"
	StagePreRelease Stage = "pre_release"
)

func (s Stage) IsValid() bool {
	return s == StagePostFit || s == StagePreRelease
}

// Store is implemented by every backend. Gets of an unset key return
// sentinel.ErrNotFound; other I/O failures are returned wrapped.
type Store interface {
	Put(ctx context.Context, session id.SessionID, stage Stage, s snapshot.Snapshot) error
	Get(ctx context.Context, session id.SessionID, stage Stage) (snapshot.Snapshot, error)
	PutProvenance(ctx context.Context, session id.SessionID, p optimizer.Provenance) error
	GetProvenance(ctx context.Context, session id.SessionID) (optimizer.Provenance, error)
}

func validateKey(session id.SessionID, stage Stage) error {
	if session.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	if !stage.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown stage %q", stage))
	}
	return nil
}

// provenance epsilons are persisted as raw bits so they compare exactly
// after a round trip.
type wireProvenance struct {
	Identity       string `json:"identity"`
	ConfiguredAsDP bool   `json:"configured_as_dp"`
	InvokedAsDP    bool   `json:"invoked_as_dp"`
	Rationale      string `json:"rationale"`
	EpsilonBits    uint64 `json:"epsilon_bits"`
}

func encodeProvenance(p optimizer.Provenance) ([]byte, error) {
	b, err := json.Marshal(wireProvenance{
		Identity:       p.Identity.String(),
		ConfiguredAsDP: p.ConfiguredAsDP,
		InvokedAsDP:    p.InvokedAsDP,
		Rationale:      p.Rationale,
		EpsilonBits:    math.Float64bits(p.Epsilon),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal provenance: %w", err)
	}
	return b, nil
}

func decodeProvenance(b []byte) (optimizer.Provenance, error) {
	var w wireProvenance
	if err := json.Unmarshal(b, &w); err != nil {
		return optimizer.Provenance{}, fmt.Errorf("unmarshal provenance: %w", err)
	}
	return optimizer.Provenance{
		Identity:       optimizer.Parse(w.Identity),
		ConfiguredAsDP: w.ConfiguredAsDP,
		InvokedAsDP:    w.InvokedAsDP,
		Rationale:      w.Rationale,
		Epsilon:        math.Float64frombits(w.EpsilonBits),
	}, nil
}
