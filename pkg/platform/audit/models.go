package audit

import (
	"math"
	"time"

	id "safemodel/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events a disclosure-control reviewer must be
	// able to reconstruct: completed fits and every release verdict.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected reviewer credentials.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	SessionID id.SessionID
	Action    string
	// Decision is "allowed" or "blocked" for release events.
	Decision string
	// Reason is the machine-readable reason code of a decision.
	Reason string
	// Check names the release check that decided the outcome.
	Check   string
	Epsilon *float64
	Detail  string
	// PreReleaseFingerprint and PostFitFingerprint are the SHA-256 of the
	// snapshots a release verdict compared.
	PreReleaseFingerprint string
	PostFitFingerprint    string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
	// ActorID is the reviewer or researcher who triggered the action.
	ActorID string
}

type AuditEvent string

const (
	EventSessionCreated    AuditEvent = "session_created"
	EventOptimizerCompiled AuditEvent = "optimizer_compiled"
	EventSnapshotCaptured  AuditEvent = "snapshot_captured"
	EventFitCompleted      AuditEvent = "fit_completed"
	EventReleaseEvaluated  AuditEvent = "release_evaluated"
	EventModelExported     AuditEvent = "model_exported"
	EventAuthFailed        AuditEvent = "auth_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventFitCompleted:     CategoryCompliance,
	EventReleaseEvaluated: CategoryCompliance,
	EventModelExported:    CategoryCompliance,

	EventAuthFailed: CategorySecurity,

	EventSessionCreated:    CategoryOperations,
	EventOptimizerCompiled: CategoryOperations,
	EventSnapshotCaptured:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// ComplianceEvent is a release-relevant action that must be persisted before
// the triggering operation may report success.
type ComplianceEvent struct {
	Timestamp time.Time
	SessionID id.SessionID // required
	Action    string       // required
	Decision  string
	Reason    string
	Check     string
	Epsilon   *float64
	Detail    string
	RequestID string
	ActorID   string

	PreReleaseFingerprint string
	PostFitFingerprint    string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the stored Event shape.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
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
	}
}

// OpsEvent captures operational events with minimal overhead.
// Events are fire-and-forget with optional sampling.
type OpsEvent struct {
	Timestamp time.Time
	SessionID id.SessionID
	Action    string
	Detail    string
	RequestID string
}

func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		SessionID: e.SessionID,
		Action:    e.Action,
		Detail:    e.Detail,
		RequestID: e.RequestID,
	}
}

// SecurityEvent records a rejected reviewer credential. These are buffered
// and may be dropped under sustained load; the newest events win.
type SecurityEvent struct {
	Timestamp time.Time
	Action    string
	Detail    string
	ClientIP  string
	UserAgent string
	RequestID string
}

func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		Detail:    securityDetail(e),
		RequestID: e.RequestID,
		ActorID:   e.ClientIP,
	}
}

func securityDetail(e SecurityEvent) string {
	if e.UserAgent == "" {
		return e.Detail
	}
	return e.Detail + "; client: " + e.UserAgent
}

// Epsilon returns a pointer suitable for Event.Epsilon. Non-finite values
// (unbounded privacy loss) are recorded as absent since they have no JSON form.
func Epsilon(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}
