// ABOUTME: Component and lifecycle hook extraction from parsed stack frames
// ABOUTME: Prefers local-source frames and ignores dependency frames

package stacktrace

import (
	"regexp"
	"strings"

	"github.com/hikmaai-io/devcapture/internal/types"
)

// componentPattern matches namespace-component-name shapes such as c-my-widget.
var componentPattern = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:-[a-z0-9]+)+)\b`)

// LifecycleHooks are checked in this order, so renderedCallback wins over render.
var LifecycleHooks = []string{
	"constructor",
	"connectedCallback",
	"disconnectedCallback",
	"renderedCallback",
	"errorCallback",
	"render",
}

// ExtractComponentNameFromStack returns the first namespace-component-name found
// in a frame's file name or function name, or "" when there is none.
// Local-source frames are searched first. Frames inside dependency
// directories are never used.
func ExtractComponentNameFromStack(frames []types.StackFrame) string {
	for _, frame := range frames {
		if frame.IsLocalSource {
			if name := componentName(frame); name != "" {
				return name
			}
		}
	}
	for _, frame := range frames {
		if frame.IsLocalSource || isDependency(frame.FileName) {
			continue
		}
		if name := componentName(frame); name != "" {
			return name
		}
	}
	return ""
}

func componentName(frame types.StackFrame) string {
	if name := componentPattern.FindString(frame.FileName); name != "" {
		return name
	}
	return componentPattern.FindString(frame.FunctionName)
}

// ExtractLifecycleHookFromStack returns the first lifecycle hook whose name
// appears, case-insensitively, in a frame's function name.
func ExtractLifecycleHookFromStack(frames []types.StackFrame) string {
	for _, frame := range frames {
		fn := strings.ToLower(frame.FunctionName)
		if fn == "" {
			continue
		}
		for _, hook := range LifecycleHooks {
			if strings.Contains(fn, strings.ToLower(hook)) {
				return hook
			}
		}
	}
	return ""
}

// TopLocalFrame returns the first local-source frame, falling back to the
// first frame. Returns nil for an empty stack.
func TopLocalFrame(frames []types.StackFrame) *types.StackFrame {
	for i := range frames {
		if frames[i].IsLocalSource {
			return &frames[i]
		}
	}
	if len(frames) > 0 {
		return &frames[0]
	}
	return nil
}
