// ABOUTME: Terminal and JSON rendering of captured error payloads
// ABOUTME: Builds colorized or plain CLI blocks, compact lines, summaries, and statistics

package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Palette holds the escape sequences used for colorized output.
type Palette struct {
	Reset   string
	Bold    string
	Dim     string
	Red     string
	Yellow  string
	Magenta string
	Cyan    string
	Gray    string
	Green   string
}

// ANSIPalette colors output with standard ANSI escapes.
var ANSIPalette = Palette{
	Reset:   "\x1b[0m",
	Bold:    "\x1b[1m",
	Dim:     "\x1b[2m",
	Red:     "\x1b[31m",
	Yellow:  "\x1b[33m",
	Magenta: "\x1b[35m",
	Cyan:    "\x1b[36m",
	Gray:    "\x1b[90m",
	Green:   "\x1b[32m",
}

// PlainPalette has every escape empty, for non-TTY output.
var PlainPalette = Palette{}

// PaletteFor returns the ANSI palette when colorize is true.
func PaletteFor(colorize bool) Palette {
	if colorize {
		return ANSIPalette
	}
	return PlainPalette
}

// Options controls FormatErrorForCLI.
type Options struct {
	// ShowFullStack includes non-local frames.
	ShowFullStack bool

	// Colorize enables ANSI colors.
	Colorize bool

	// Compact renders a single line instead of a block.
	Compact bool
}

// maxSummaryPerGroup is how many compact lines FormatErrorSummary shows per component.
const maxSummaryPerGroup = 3

func severityColor(p Palette, sev types.Severity) string {
	switch sev {
	case types.SeverityFatal:
		return p.Magenta
	case types.SeverityWarning:
		return p.Yellow
	default:
		return p.Red
	}
}

func severityBadge(p Palette, sev types.Severity) string {
	label := strings.ToUpper(string(sev))
	if label == "" {
		label = "ERROR"
	}
	return fmt.Sprintf("%s%s[%s]%s", p.Bold, severityColor(p, sev), label, p.Reset)
}

func location(file string, line, column int) string {
	if file == "" {
		return types.UnknownName
	}
	if column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, column)
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func componentLabel(c types.ComponentInfo) string {
	switch {
	case c.Name == "":
		return ""
	case c.Namespace != "" && !strings.HasPrefix(c.Name, c.Namespace+"-"):
		return c.Namespace + "/" + c.Name
	default:
		return c.Name
	}
}

// FormatErrorForCLI renders a payload as a multi-line block.
func FormatErrorForCLI(payload *types.ErrorPayload, opts Options) string {
	if opts.Compact {
		return FormatErrorCompact(payload, opts.Colorize)
	}

	p := PaletteFor(opts.Colorize)
	var sb strings.Builder

	name := payload.Error.Name
	if name == "" {
		name = "Error"
	}
	fmt.Fprintf(&sb, "%s %s%s%s %s%s%s\n",
		severityBadge(p, payload.Metadata.Severity),
		p.Bold, name, p.Reset,
		p.Gray, payload.Timestamp, p.Reset)
	fmt.Fprintf(&sb, "  %s%s%s\n", severityColor(p, payload.Metadata.Severity), payload.Error.Message, p.Reset)

	if label := componentLabel(payload.Component); label != "" {
		fmt.Fprintf(&sb, "  %sComponent:%s %s%s%s", p.Dim, p.Reset, p.Cyan, label, p.Reset)
		if payload.Component.TagName != "" {
			fmt.Fprintf(&sb, " <%s>", payload.Component.TagName)
		}
		sb.WriteString("\n")
	}
	if payload.Component.Lifecycle != "" {
		fmt.Fprintf(&sb, "  %sLifecycle:%s %s\n", p.Dim, p.Reset, payload.Component.Lifecycle)
	}
	if payload.Source.FileName != "" {
		fmt.Fprintf(&sb, "  %sSource:%s %s\n", p.Dim, p.Reset,
			location(payload.Source.FileName, payload.Source.LineNumber, payload.Source.ColumnNumber))
	}

	frames := payload.Error.SanitizedStack
	if len(frames) > 0 {
		shown, hidden := frames, 0
		if !opts.ShowFullStack {
			shown = make([]types.StackFrame, 0, len(frames))
			for _, f := range frames {
				if f.IsLocalSource {
					shown = append(shown, f)
				}
			}
			hidden = len(frames) - len(shown)
		}

		fmt.Fprintf(&sb, "  %sStack:%s\n", p.Dim, p.Reset)
		for _, f := range shown {
			sb.WriteString("    ")
			sb.WriteString(formatFrame(p, f))
			sb.WriteString("\n")
		}
		if hidden > 0 {
			fmt.Fprintf(&sb, "    %s... %d framework %s hidden%s\n", p.Gray, hidden, plural(hidden, "frame", "frames"), p.Reset)
		}
	}

	if n := payload.Metadata.OccurrenceCount; n > 1 {
		fmt.Fprintf(&sb, "  %sOccurred %d times%s\n", p.Yellow, n, p.Reset)
	}

	return sb.String()
}

func formatFrame(p Palette, f types.StackFrame) string {
	loc := location(f.FileName, f.LineNumber, f.ColumnNumber)
	color := p.Gray
	if f.IsLocalSource {
		color = p.Cyan
	}
	if f.FunctionName == "" {
		return fmt.Sprintf("at %s%s%s", color, loc, p.Reset)
	}
	return fmt.Sprintf("at %s (%s%s%s)", f.FunctionName, color, loc, p.Reset)
}

// FormatErrorCompact renders a payload as one line.
func FormatErrorCompact(payload *types.ErrorPayload, colorize bool) string {
	p := PaletteFor(colorize)

	var sb strings.Builder
	sb.WriteString(severityBadge(p, payload.Metadata.Severity))
	if label := componentLabel(payload.Component); label != "" {
		fmt.Fprintf(&sb, " %s%s%s:", p.Cyan, label, p.Reset)
	}
	fmt.Fprintf(&sb, " %s", payload.Error.Message)
	if payload.Source.FileName != "" {
		fmt.Fprintf(&sb, " %s(%s)%s", p.Gray,
			location(payload.Source.FileName, payload.Source.LineNumber, payload.Source.ColumnNumber), p.Reset)
	}
	if n := payload.Metadata.OccurrenceCount; n > 1 {
		fmt.Fprintf(&sb, " %sx%d%s", p.Yellow, n, p.Reset)
	}
	return sb.String()
}

// FormatErrorSummary groups payloads by component and shows up to three
// compact lines per group.
func FormatErrorSummary(payloads []*types.ErrorPayload, colorize bool) string {
	p := PaletteFor(colorize)

	if len(payloads) == 0 {
		return fmt.Sprintf("%sNo errors captured%s\n", p.Green, p.Reset)
	}

	var order []string
	groups := make(map[string][]*types.ErrorPayload)
	for _, payload := range payloads {
		name := payload.ComponentName()
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], payload)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%d %s in %d %s%s\n", p.Bold,
		len(payloads), plural(len(payloads), "error", "errors"),
		len(order), plural(len(order), "component", "components"), p.Reset)

	for _, name := range order {
		group := groups[name]
		fmt.Fprintf(&sb, "\n  %s%s%s (%d)\n", p.Cyan, name, p.Reset, len(group))
		for i, payload := range group {
			if i == maxSummaryPerGroup {
				fmt.Fprintf(&sb, "    %s... and %d more%s\n", p.Gray, len(group)-maxSummaryPerGroup, p.Reset)
				break
			}
			fmt.Fprintf(&sb, "    %s\n", FormatErrorCompact(payload, colorize))
		}
	}

	return sb.String()
}

// FormatErrorStatistics renders store statistics as a readable block.
func FormatErrorStatistics(stats store.Statistics, colorize bool) string {
	p := PaletteFor(colorize)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%sError statistics%s\n", p.Bold, p.Reset)
	fmt.Fprintf(&sb, "  Unique errors:     %d\n", stats.TotalErrors)
	fmt.Fprintf(&sb, "  Total occurrences: %d\n", stats.TotalOccurrences)

	if len(stats.BySeverity) > 0 {
		fmt.Fprintf(&sb, "\n  %sBy severity:%s\n", p.Dim, p.Reset)
		for _, kv := range sortedCounts(stats.BySeverity) {
			color := severityColor(p, types.Severity(kv.key))
			fmt.Fprintf(&sb, "    %s%-10s%s %d\n", color, kv.key, p.Reset, kv.count)
		}
	}

	if len(stats.ByComponent) > 0 {
		fmt.Fprintf(&sb, "\n  %sBy component:%s\n", p.Dim, p.Reset)
		for _, kv := range sortedCounts(stats.ByComponent) {
			fmt.Fprintf(&sb, "    %s%s%s %d\n", p.Cyan, kv.key, p.Reset, kv.count)
		}
	}

	return sb.String()
}

// FormatErrorJSON renders a payload as indented JSON.
func FormatErrorJSON(payload *types.ErrorPayload) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return string(data), nil
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders by count descending, then key.
func sortedCounts(m map[string]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		out = append(out, keyCount{key: k, count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
