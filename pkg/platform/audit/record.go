package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "safemodel/pkg/domain"
)

// Record is the JSON form of an Event on the audit topic.
type Record struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Timestamp string   `json:"timestamp"`
	SessionID string   `json:"session_id,omitempty"`
	Action    string   `json:"action"`
	Decision  string   `json:"decision,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Check     string   `json:"check,omitempty"`
	Epsilon   *float64 `json:"epsilon,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
	ActorID   string   `json:"actor_id,omitempty"`

	PreReleaseFingerprint string `json:"pre_release_fingerprint,omitempty"`
	PostFitFingerprint    string `json:"post_fit_fingerprint,omitempty"`
}

// EncodeRecord marshals an event for publication. The event must carry an ID.
func EncodeRecord(e Event) ([]byte, error) {
	r := Record{
		ID:        e.ID,
		Category:  string(e.Category),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
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
	if !e.SessionID.IsNil() {
		r.SessionID = e.SessionID.String()
	}
	return json.Marshal(r)
}

// DecodeRecord parses a published event. The ID, category, action and
// timestamp are required; the session is optional.
func DecodeRecord(b []byte) (Event, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Event{}, fmt.Errorf("decode audit record: %w", err)
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return Event{}, fmt.Errorf("audit record id: %w", err)
	}
	if r.Category == "" || r.Action == "" {
		return Event{}, fmt.Errorf("audit record %s: category and action are required", r.ID)
	}
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Event{}, fmt.Errorf("audit record %s timestamp: %w", r.ID, err)
	}
	e := Event{
		ID:        r.ID,
		Category:  EventCategory(r.Category),
		Timestamp: ts,
		Action:    r.Action,
		Decision:  r.Decision,
		Reason:    r.Reason,
		Check:     r.Check,
		Epsilon:   r.Epsilon,
		Detail:    r.Detail,
		RequestID: r.RequestID,
		ActorID:   r.ActorID,

		PreReleaseFingerprint: r.PreReleaseFingerprint,
		PostFitFingerprint:    r.PostFitFingerprint,
	}
	if r.SessionID != "" {
		sid, err := id.ParseSessionID(r.SessionID)
		if err != nil {
			return Event{}, fmt.Errorf("audit record %s session: %w", r.ID, err)
		}
		e.SessionID = sid
	}
	return e, nil
}
