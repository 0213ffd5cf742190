// ABOUTME: Subjects and wire encoding for capture events on NATS
// ABOUTME: One subject per severity under a configurable prefix

package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hikmaai-io/devcapture/internal/types"
)

// DefaultSubjectPrefix is the subject prefix for capture events.
const DefaultSubjectPrefix = "devcapture.errors"

// SubjectFor returns the subject an event of severity sev is published on.
// Unknown severities go to the error subject.
func SubjectFor(prefix string, sev types.Severity) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if !sev.IsValid() {
		sev = types.SeverityError
	}
	return prefix + "." + sev.String()
}

// WildcardSubject matches every severity under prefix.
func WildcardSubject(prefix string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".*"
}

// EncodeEvent serializes an event for the wire.
func EncodeEvent(ev types.CaptureEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding capture event %s: %w", ev.ErrorID, err)
	}
	return data, nil
}

// DecodeEvent parses an event from the wire.
func DecodeEvent(data []byte) (types.CaptureEvent, error) {
	var ev types.CaptureEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return types.CaptureEvent{}, fmt.Errorf("decoding capture event: %w", err)
	}
	if ev.ErrorID == "" {
		return types.CaptureEvent{}, fmt.Errorf("decoding capture event: missing errorId")
	}
	return ev, nil
}
