// Package domain holds typed identifiers shared across modules.
//
// IDs are distinct named types over uuid.UUID so a snapshot ID can never be
// passed where a session ID is expected. Construct them via the Parse
// functions at trust boundaries; New* helpers are for server-side creation.
package domain

import (
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "safemodel/pkg/domain-errors"
)

// SessionID identifies one guarded model instance (one compile/fit/release lifecycle).
type SessionID uuid.UUID

// SnapshotID identifies one captured model snapshot.
type SnapshotID uuid.UUID

// ReviewerID identifies the output checker requesting a release decision.
type ReviewerID uuid.UUID

func NewSessionID() SessionID   { return SessionID(uuid.New()) }
func NewSnapshotID() SnapshotID { return SnapshotID(uuid.New()) }

func (id SessionID) String() string  { return uuid.UUID(id).String() }
func (id SnapshotID) String() string { return uuid.UUID(id).String() }
func (id ReviewerID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id SnapshotID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ReviewerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseSessionID parses external input into a SessionID.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed, or the nil UUID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session ID")
	return SessionID(u), err
}

// ParseSnapshotID parses external input into a SnapshotID.
func ParseSnapshotID(s string) (SnapshotID, error) {
	u, err := parseUUID(s, "snapshot ID")
	return SnapshotID(u), err
}

// ParseReviewerID parses external input into a ReviewerID.
func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parseUUID(s, "reviewer ID")
	return ReviewerID(u), err
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	if !utf8.ValidString(s) || len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}
