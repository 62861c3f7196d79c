package handler

import (
	"math"
	"time"

	"safemodel/internal/release"
	id "safemodel/pkg/domain"
	audit "safemodel/pkg/platform/audit"
)

// DecisionResponse is the HTTP body of a release verdict.
type DecisionResponse struct {
	SessionID     string    `json:"session_id"`
	SafeToRelease bool      `json:"safe_to_release"`
	Message       string    `json:"message"`
	Epsilon       *float64  `json:"epsilon,omitempty"`
	Unbounded     bool      `json:"epsilon_unbounded,omitempty"`
	Check         string    `json:"check"`
	Reason        string    `json:"reason"`
	EvaluatedAt   time.Time `json:"evaluated_at"`

	PreReleaseFingerprint string `json:"pre_release_fingerprint,omitempty"`
	PostFitFingerprint    string `json:"post_fit_fingerprint,omitempty"`
}

func FromDecision(sid id.SessionID, d release.Decision) DecisionResponse {
	out := DecisionResponse{
		SessionID:     sid.String(),
		SafeToRelease: d.SafeToRelease,
		Message:       d.Message,
		Check:         string(d.Check),
		Reason:        string(d.Reason),
		EvaluatedAt:   d.EvaluatedAt,

		PreReleaseFingerprint: d.PreReleaseFingerprint,
		PostFitFingerprint:    d.PostFitFingerprint,
	}
	if d.Epsilon != nil {
		if math.IsInf(*d.Epsilon, 0) {
			out.Unbounded = true
		} else {
			eps := *d.Epsilon
			out.Epsilon = &eps
		}
	}
	return out
}

// ExportResponse reports an export attempt. Checkpoint is empty when the
// verdict blocked release.
type ExportResponse struct {
	Decision    DecisionResponse `json:"decision"`
	Checkpoint  string           `json:"checkpoint,omitempty"`
	Fingerprint string           `json:"fingerprint,omitempty"`
}

func FromExport(sid id.SessionID, exp release.Export) ExportResponse {
	return ExportResponse{
		Decision:    FromDecision(sid, exp.Decision),
		Checkpoint:  exp.Path,
		Fingerprint: exp.Fingerprint,
	}
}

type EventResponse struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Check     string    `json:"check,omitempty"`
	Epsilon   *float64  `json:"epsilon,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`

	PreReleaseFingerprint string `json:"pre_release_fingerprint,omitempty"`
	PostFitFingerprint    string `json:"post_fit_fingerprint,omitempty"`
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
}

func FromEvents(events []audit.Event) EventsResponse {
	out := EventsResponse{Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, EventResponse{
			ID:        e.ID,
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			SessionID: e.SessionID.String(),
			Action:    e.Action,
			Decision:  e.Decision,
			Reason:    e.Reason,
			Check:     e.Check,
			Epsilon:   e.Epsilon,
			Detail:    e.Detail,
			RequestID: e.RequestID,
			ActorID:   e.ActorID,

			PreReleaseFingerprint: e.PreReleaseFingerprint,
			PostFitFingerprint:    e.PostFitFingerprint,
		})
	}
	return out
}
