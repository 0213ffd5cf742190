// ABOUTME: Diagnostic payload types for captured runtime errors
// ABOUTME: Contains stack frames, component context, metadata, and the dedup signature

package types

import (
	"fmt"
	"strings"
)

// Severity represents how serious a captured error is.
type Severity string

const (
	// SeverityError is a regular runtime error.
	SeverityError Severity = "error"
	// SeverityWarning is a non-fatal warning.
	SeverityWarning Severity = "warning"
	// SeverityFatal is an error that broke the component.
	SeverityFatal Severity = "fatal"
)

// ParseSeverity parses a severity string.
// Returns false if the string is not one of error, warning, fatal.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityError, SeverityWarning, SeverityFatal:
		return sev, true
	default:
		return "", false
	}
}

// IsValid returns true if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityFatal:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// UnknownName substitutes a missing component or file name in signatures and statistics.
const UnknownName = "unknown"

// StackFrame is one entry in a parsed call stack.
// An empty FunctionName means the frame is anonymous.
type StackFrame struct {
	FunctionName  string `json:"functionName"`
	FileName      string `json:"fileName"`
	LineNumber    int    `json:"lineNumber"`
	ColumnNumber  int    `json:"columnNumber"`
	IsLocalSource bool   `json:"isLocalSource"`
	Raw           string `json:"raw"`
}

// ErrorInfo describes the thrown error itself.
type ErrorInfo struct {
	Message        string       `json:"message"`
	Name           string       `json:"name"`
	Stack          string       `json:"stack"`
	SanitizedStack []StackFrame `json:"sanitizedStack"`
	Code           string       `json:"code,omitempty"`
}

// ComponentInfo identifies which UI component produced the error.
// Empty strings stand for unknown values.
type ComponentInfo struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	TagName   string `json:"tagName"`
	Lifecycle string `json:"lifecycle"`
	FilePath  string `json:"filePath"`
}

// Viewport is the browser viewport size at capture time.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RuntimeInfo is contextual, non-authoritative browser information.
type RuntimeInfo struct {
	UserAgent        string    `json:"userAgent,omitempty"`
	Viewport         *Viewport `json:"viewport,omitempty"`
	URL              string    `json:"url,omitempty"`
	FrameworkVersion string    `json:"frameworkVersion,omitempty"`
	IsDevelopment    bool      `json:"isDevelopment"`
}

// SourceLocation is the single most relevant location of an error.
type SourceLocation struct {
	FileName     string `json:"fileName"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// Metadata holds severity and occurrence bookkeeping.
// OccurrenceCount is owned by the store once the payload is added.
type Metadata struct {
	Severity        Severity `json:"severity"`
	WasHandled      bool     `json:"wasHandled"`
	OccurrenceCount int      `json:"occurrenceCount"`
	Tags            []string `json:"tags"`
}

// ErrorPayload is one captured error occurrence as submitted by a client.
type ErrorPayload struct {
	ErrorID   string         `json:"errorId"`
	Timestamp string         `json:"timestamp"`
	Error     ErrorInfo      `json:"error"`
	Component ComponentInfo  `json:"component"`
	Runtime   RuntimeInfo    `json:"runtime"`
	State     map[string]any `json:"state,omitempty"`
	Source    SourceLocation `json:"source"`
	Metadata  Metadata       `json:"metadata"`
}

// Signature returns the dedup key message|component|file|line.
// Two payloads with equal signatures are the same logical error.
func (p *ErrorPayload) Signature() string {
	component := p.Component.Name
	if component == "" {
		component = UnknownName
	}
	file := p.Source.FileName
	if file == "" {
		file = UnknownName
	}
	return fmt.Sprintf("%s|%s|%s|%d", p.Error.Message, component, file, p.Source.LineNumber)
}

// ComponentName returns the component name or UnknownName.
func (p *ErrorPayload) ComponentName() string {
	if p.Component.Name == "" {
		return UnknownName
	}
	return p.Component.Name
}

// Normalize applies metadata defaults.
// The occurrence count is always reset to 1; only the store increments it.
func (p *ErrorPayload) Normalize() {
	if sev, ok := ParseSeverity(string(p.Metadata.Severity)); ok {
		p.Metadata.Severity = sev
	} else {
		p.Metadata.Severity = SeverityError
	}
	p.Metadata.OccurrenceCount = 1
	if p.Metadata.Tags == nil {
		p.Metadata.Tags = []string{}
	}
	if p.Error.SanitizedStack == nil {
		p.Error.SanitizedStack = []StackFrame{}
	}
}

// Clone returns a deep copy of the payload.
func (p *ErrorPayload) Clone() *ErrorPayload {
	if p == nil {
		return nil
	}
	c := *p
	if p.Error.SanitizedStack != nil {
		c.Error.SanitizedStack = make([]StackFrame, len(p.Error.SanitizedStack))
		copy(c.Error.SanitizedStack, p.Error.SanitizedStack)
	}
	if p.Runtime.Viewport != nil {
		vp := *p.Runtime.Viewport
		c.Runtime.Viewport = &vp
	}
	if p.Metadata.Tags != nil {
		c.Metadata.Tags = make([]string, len(p.Metadata.Tags))
		copy(c.Metadata.Tags, p.Metadata.Tags)
	}
	if p.State != nil {
		c.State = cloneMap(p.State)
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
