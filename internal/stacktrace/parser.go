// ABOUTME: Stack trace parser for engine-specific browser stack strings
// ABOUTME: Tries an ordered list of line matchers and drops unparseable lines

package stacktrace

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hikmaai-io/devcapture/internal/types"
)

// NativeCode is the file name used for frames in engine-native code.
const NativeCode = "[native code]"

// lineMatch is the raw result of a matcher before sanitization.
type lineMatch struct {
	function string
	file     string
	line     int
	column   int
	native   bool
}

// Matcher recognizes one stack line shape.
type Matcher struct {
	// Name identifies the format in tests and logs.
	Name string

	match func(line string) (lineMatch, bool)
}

var (
	// at FunctionName (file:line:col), function name optional.
	atPattern = regexp.MustCompile(`^\s*at\s+(?:(.*?)\s*\()?(.+?):(\d+):(\d+)\)?\s*$`)

	// FunctionName@file:line:col.
	atSignPattern = regexp.MustCompile(`^\s*([^@]*)@(.+):(\d+):(\d+)\s*$`)

	// FunctionName@location.
	atSignLocationPattern = regexp.MustCompile(`^\s*([^@]*)@(.+?)\s*$`)

	// file:line:col.
	locationPattern = regexp.MustCompile(`^\s*(.+?):(\d+):(\d+)\s*$`)
)

// Matchers are tried in order; the first match wins.
var Matchers = []Matcher{
	{Name: "at-parenthesized", match: matchAt},
	{Name: "at-sign", match: matchAtSign},
	{Name: "at-sign-location", match: matchAtSignLocation},
	{Name: "bare-location", match: matchBareLocation},
}

func matchAt(line string) (lineMatch, bool) {
	m := atPattern.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	return newLineMatch(m[1], m[2], m[3], m[4])
}

func matchAtSign(line string) (lineMatch, bool) {
	m := atSignPattern.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	return newLineMatch(m[1], m[2], m[3], m[4])
}

func matchAtSignLocation(line string) (lineMatch, bool) {
	m := atSignLocationPattern.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	function, location := strings.TrimSpace(m[1]), m[2]
	if location == NativeCode {
		return lineMatch{function: function, file: NativeCode, native: true}, true
	}
	loc := locationPattern.FindStringSubmatch(location)
	if loc == nil {
		return lineMatch{}, false
	}
	return newLineMatch(function, loc[1], loc[2], loc[3])
}

func matchBareLocation(line string) (lineMatch, bool) {
	m := locationPattern.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	return newLineMatch("", m[1], m[2], m[3])
}

func newLineMatch(function, file, line, column string) (lineMatch, bool) {
	ln, err := strconv.Atoi(line)
	if err != nil {
		return lineMatch{}, false
	}
	col, err := strconv.Atoi(column)
	if err != nil {
		return lineMatch{}, false
	}
	return lineMatch{
		function: strings.TrimSpace(function),
		file:     file,
		line:     ln,
		column:   col,
	}, true
}

// ParseStackFrame parses a single stack line.
// Returns nil if the line matches none of the known formats.
func ParseStackFrame(line, projectRoot string) *types.StackFrame {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	for _, m := range Matchers {
		res, ok := m.match(line)
		if !ok {
			continue
		}

		frame := &types.StackFrame{
			FunctionName: res.function,
			LineNumber:   res.line,
			ColumnNumber: res.column,
			Raw:          line,
		}
		if res.native {
			frame.FileName = NativeCode
			return frame
		}
		frame.FileName = SanitizeFileName(res.file)
		frame.IsLocalSource = IsLocalSource(frame.FileName, projectRoot)
		return frame
	}

	return nil
}

// ParseStackTrace parses a raw stack string into frames, preserving order.
// Lines that cannot be parsed are omitted.
func ParseStackTrace(stack, projectRoot string) []types.StackFrame {
	frames := []types.StackFrame{}
	if stack == "" {
		return frames
	}

	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimRight(line, "\r")
		if frame := ParseStackFrame(line, projectRoot); frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}
