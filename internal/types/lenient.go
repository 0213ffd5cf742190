// ABOUTME: Tolerant JSON decoding for the optional parts of an error payload
// ABOUTME: Coerces mistyped optional fields to zero values instead of failing

package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fields is a decoded JSON object keyed by member name.
type fields map[string]json.RawMessage

// decodeFields decodes data as a JSON object. A JSON null yields a nil map.
func decodeFields(data []byte) (fields, error) {
	switch kindOf(data) {
	case kindNull:
		return nil, nil
	case kindObject:
	default:
		return nil, fmt.Errorf("expected a JSON object, got %s", kindOf(data))
	}

	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// str returns a string member. Numbers and booleans keep their JSON text.
func (f fields) str(name string) string {
	raw := f[name]
	switch kindOf(raw) {
	case kindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case kindNumber, kindBool:
		return strings.TrimSpace(string(raw))
	default:
		return ""
	}
}

// int returns an integer member. Fractions are truncated and numeric strings
// are parsed; anything else is 0.
func (f fields) int(name string) int {
	var text string
	switch raw := f[name]; kindOf(raw) {
	case kindNumber:
		text = strings.TrimSpace(string(raw))
	case kindString:
		text = strings.TrimSpace(f.str(name))
	default:
		return 0
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0
	}
	return int(v)
}

// bool returns a boolean member. The strings "true" and "false" are accepted.
func (f fields) bool(name string) bool {
	raw := f[name]
	switch kindOf(raw) {
	case kindBool:
		return strings.TrimSpace(string(raw)) == "true"
	case kindString:
		b, _ := strconv.ParseBool(f.str(name))
		return b
	default:
		return false
	}
}

// object returns a nested object member, or nil if the member is not an object.
func (f fields) object(name string) fields {
	if kindOf(f[name]) != kindObject {
		return nil
	}
	nested, err := decodeFields(f[name])
	if err != nil {
		return nil
	}
	return nested
}

// array returns the elements of an array member, or nil.
func (f fields) array(name string) []json.RawMessage {
	if kindOf(f[name]) != kindArray {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(f[name], &items); err != nil {
		return nil
	}
	return items
}

// strings returns the scalar elements of an array member as strings.
func (f fields) strings(name string) []string {
	items := f.array(name)
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, raw := range items {
		switch kindOf(raw) {
		case kindString, kindNumber, kindBool:
			out = append(out, fields{"v": raw}.str("v"))
		}
	}
	return out
}

// UnmarshalJSON decodes a payload, tolerating mistyped optional fields.
// Only a non-object payload is an error; the required fields are checked
// separately by ValidatePayload.
func (p *ErrorPayload) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil || f == nil {
		return err
	}

	out := ErrorPayload{
		ErrorID:   f.str("errorId"),
		Timestamp: f.str("timestamp"),
	}
	out.Error.fromFields(f.object("error"))
	out.Component.fromFields(f.object("component"))
	out.Runtime.fromFields(f.object("runtime"))
	out.Source.fromFields(f.object("source"))
	out.Metadata.fromFields(f.object("metadata"))

	if kindOf(f["state"]) == kindObject {
		var state map[string]any
		if err := json.Unmarshal(f["state"], &state); err == nil {
			out.State = state
		}
	}

	*p = out
	return nil
}

// UnmarshalJSON decodes error details, tolerating a numeric code.
func (e *ErrorInfo) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	e.fromFields(f)
	return nil
}

func (e *ErrorInfo) fromFields(f fields) {
	*e = ErrorInfo{
		Message: f.str("message"),
		Name:    f.str("name"),
		Stack:   f.str("stack"),
		Code:    f.str("code"),
	}
	if items := f.array("sanitizedStack"); items != nil {
		e.SanitizedStack = make([]StackFrame, 0, len(items))
		for _, raw := range items {
			if kindOf(raw) != kindObject {
				continue
			}
			var frame StackFrame
			if err := frame.UnmarshalJSON(raw); err == nil {
				e.SanitizedStack = append(e.SanitizedStack, frame)
			}
		}
	}
}

// UnmarshalJSON decodes a stack frame, tolerating string or fractional positions.
func (s *StackFrame) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*s = StackFrame{
		FunctionName:  f.str("functionName"),
		FileName:      f.str("fileName"),
		LineNumber:    f.int("lineNumber"),
		ColumnNumber:  f.int("columnNumber"),
		IsLocalSource: f.bool("isLocalSource"),
		Raw:           f.str("raw"),
	}
	return nil
}

func (c *ComponentInfo) fromFields(f fields) {
	*c = ComponentInfo{
		Name:      f.str("name"),
		Namespace: f.str("namespace"),
		TagName:   f.str("tagName"),
		Lifecycle: f.str("lifecycle"),
		FilePath:  f.str("filePath"),
	}
}

func (r *RuntimeInfo) fromFields(f fields) {
	*r = RuntimeInfo{
		UserAgent:        f.str("userAgent"),
		URL:              f.str("url"),
		FrameworkVersion: f.str("frameworkVersion"),
		IsDevelopment:    f.bool("isDevelopment"),
	}
	if vp := f.object("viewport"); vp != nil {
		r.Viewport = &Viewport{Width: vp.int("width"), Height: vp.int("height")}
	}
}

func (s *SourceLocation) fromFields(f fields) {
	*s = SourceLocation{
		FileName:     f.str("fileName"),
		LineNumber:   f.int("lineNumber"),
		ColumnNumber: f.int("columnNumber"),
	}
}

func (m *Metadata) fromFields(f fields) {
	*m = Metadata{
		Severity:        Severity(f.str("severity")),
		WasHandled:      f.bool("wasHandled"),
		OccurrenceCount: f.int("occurrenceCount"),
		Tags:            f.strings("tags"),
	}
}
