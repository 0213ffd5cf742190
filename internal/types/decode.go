// ABOUTME: Schema validation and decoding for incoming error payloads
// ABOUTME: Checks required fields by JSON kind before decoding into ErrorPayload

package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is matched by every ValidationError via errors.Is.
var ErrInvalidPayload = errors.New("invalid error payload")

// ValidationError lists the structural problems found in a payload.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

// Is reports ErrInvalidPayload as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPayload
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// jsonKind is the JSON value kind of a raw message.
type jsonKind int

const (
	kindMissing jsonKind = iota
	kindNull
	kindString
	kindNumber
	kindBool
	kindObject
	kindArray
)

func (k jsonKind) String() string {
	switch k {
	case kindNull:
		return "null"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	case kindObject:
		return "object"
	case kindArray:
		return "array"
	default:
		return "missing"
	}
}

func kindOf(raw json.RawMessage) jsonKind {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return kindMissing
	}
	switch trimmed[0] {
	case '"':
		return kindString
	case '{':
		return kindObject
	case '[':
		return kindArray
	case 'n':
		return kindNull
	case 't', 'f':
		return kindBool
	default:
		return kindNumber
	}
}

// requireKind records a problem unless fields[name] has the wanted kind.
func (e *ValidationError) requireKind(fields map[string]json.RawMessage, path, name string, want jsonKind) bool {
	got := kindOf(fields[name])
	if got == want {
		return true
	}
	if got == kindMissing {
		e.add("%s%s is required", path, name)
	} else {
		e.add("%s%s must be of type %s, got %s", path, name, want, got)
	}
	return false
}

// ValidatePayload checks the required field set of a raw payload:
// string errorId, string timestamp, object error with string message and name,
// and array error.sanitizedStack.
func ValidatePayload(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return &ValidationError{Problems: []string{"payload must be a JSON object"}}
	}

	verr := &ValidationError{}
	verr.requireKind(top, "", "errorId", kindString)
	verr.requireKind(top, "", "timestamp", kindString)

	if verr.requireKind(top, "", "error", kindObject) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(top["error"], &inner); err != nil {
			verr.add("error must be an object")
		} else {
			verr.requireKind(inner, "error.", "message", kindString)
			verr.requireKind(inner, "error.", "name", kindString)
			verr.requireKind(inner, "error.", "sanitizedStack", kindArray)
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

// DecodePayload validates and decodes a payload.
// Fields outside the payload schema, such as client-only debug data, are dropped.
// Optional fields of the wrong type decode as their zero value.
func DecodePayload(data []byte) (*ErrorPayload, error) {
	if err := ValidatePayload(data); err != nil {
		return nil, err
	}

	var p ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return &p, nil
}
