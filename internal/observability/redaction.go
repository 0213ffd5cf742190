// ABOUTME: Redaction of secrets in captured component state and log values
// ABOUTME: Masks passwords, tokens and keys; bounds nesting depth of state snapshots

package observability

import (
	"regexp"
	"strings"
)

// RedactionPlaceholder is the replacement text for redacted values.
const RedactionPlaceholder = "[REDACTED]"

// MaxDepthPlaceholder replaces values nested deeper than the redaction limit.
const MaxDepthPlaceholder = "[MaxDepth]"

// DefaultStateDepth is the nesting depth kept in captured state snapshots.
const DefaultStateDepth = 5

// Values stop at whitespace or & so query strings keep their other params.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s&]+`),
	regexp.MustCompile(`(?i)(token|auth_token|access_token)=[^\s&]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)=[^\s&]+`),
	regexp.MustCompile(`(?i)(secret|client_secret)=[^\s&]+`),
	regexp.MustCompile(`(?i)Bearer\s+[^\s]+`),
}

var sensitiveReplacements = []string{
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"${1}=" + RedactionPlaceholder,
	"Bearer " + RedactionPlaceholder,
}

var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"token",
	"secret",
	"api_key",
	"api-key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"private-key",
	"privatekey",
	"sessionid",
	"session_id",
	"cookie",
}

// RedactSensitive replaces sensitive data in a string with [REDACTED].
func RedactSensitive(value string) string {
	result := value
	for i, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, sensitiveReplacements[i])
	}
	return result
}

// RedactState redacts a component state snapshot. Maps and slices nested
// more than maxDepth levels below the root are replaced by [MaxDepth].
// A nil map stays nil.
func RedactState(state map[string]any, maxDepth int) map[string]any {
	if state == nil {
		return nil
	}
	return redactMap(state, 0, maxDepth)
}

func redactMap(m map[string]any, depth, maxDepth int) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			result[k] = RedactionPlaceholder
			continue
		}
		result[k] = redactValue(v, depth+1, maxDepth)
	}
	return result
}

func redactSlice(s []any, depth, maxDepth int) []any {
	result := make([]any, len(s))
	for i, v := range s {
		result[i] = redactValue(v, depth+1, maxDepth)
	}
	return result
}

func redactValue(v any, depth, maxDepth int) any {
	switch val := v.(type) {
	case string:
		return RedactSensitive(val)
	case map[string]any:
		if maxDepth >= 0 && depth >= maxDepth {
			return MaxDepthPlaceholder
		}
		return redactMap(val, depth, maxDepth)
	case []any:
		if maxDepth >= 0 && depth >= maxDepth {
			return MaxDepthPlaceholder
		}
		return redactSlice(val, depth, maxDepth)
	default:
		return v
	}
}

// IsSensitiveKey returns true if the key name suggests sensitive data.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(lowerKey, pattern) {
			return true
		}
	}
	return false
}
