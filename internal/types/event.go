// ABOUTME: CaptureEvent is the broker message published for every accepted error
// ABOUTME: Carries the dedup outcome alongside a copy of the stored payload

package types

import "time"

// Capture outcomes carried on events.
const (
	OutcomeInserted = "inserted"
	OutcomeMerged   = "merged"
	OutcomeReplaced = "replaced"
)

// CaptureEvent describes one accepted capture as seen by the store.
type CaptureEvent struct {
	ErrorID         string        `json:"errorId"`
	Signature       string        `json:"signature"`
	Severity        Severity      `json:"severity"`
	Component       string        `json:"component"`
	Message         string        `json:"message"`
	Outcome         string        `json:"outcome"`
	OccurrenceCount int           `json:"occurrenceCount"`
	EvictedID       string        `json:"evictedId,omitempty"`
	CapturedAt      time.Time     `json:"capturedAt"`
	CorrelationID   string        `json:"correlationId,omitempty"`
	Payload         *ErrorPayload `json:"payload"`
}

// NewCaptureEvent builds an event for p with the given store outcome.
// The payload is cloned so later store mutations do not leak into the event.
func NewCaptureEvent(p *ErrorPayload, outcome string, occurrences int, evictedID string, at time.Time) CaptureEvent {
	return CaptureEvent{
		ErrorID:         p.ErrorID,
		Signature:       p.Signature(),
		Severity:        p.Metadata.Severity,
		Component:       p.ComponentName(),
		Message:         p.Error.Message,
		Outcome:         outcome,
		OccurrenceCount: occurrences,
		EvictedID:       evictedID,
		CapturedAt:      at.UTC(),
		Payload:         p.Clone(),
	}
}
