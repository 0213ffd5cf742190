// ABOUTME: Tests for CLI flag defaults, report building and output rendering
// ABOUTME: Runs list, report, export and show end to end against httptest

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hikmaai-io/devcapture/internal/api"
	"github.com/hikmaai-io/devcapture/internal/archive"
	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/redis"
	"github.com/hikmaai-io/devcapture/internal/resilience"
	"github.com/hikmaai-io/devcapture/internal/server"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

func TestServeCmd_FlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := newServeCmd()

	tests := []struct {
		flag string
		want string
	}{
		{"port", "9876"},
		{"host", "localhost"},
		{"all-interfaces", "false"},
		{"max-size", "1000"},
		{"compact", "false"},
		{"full-stack", "false"},
		{"nats-url", ""},
		{"redis-addr", ""},
		{"archive-on-exit", "false"},
	}

	for _, tt := range tests {
		f := cmd.Flags().Lookup(tt.flag)
		if f == nil {
			t.Errorf("flag %q not defined", tt.flag)
			continue
		}
		if f.DefValue != tt.want {
			t.Errorf("--%s default = %q, want %q", tt.flag, f.DefValue, tt.want)
		}
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	for _, name := range []string{"serve", "list", "stats", "clear", "report", "export", "import", "show", "snapshot", "tail", "version"} {
		if sub, _, err := cmd.Find([]string{name}); err != nil || sub.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestBuildReport(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)
	stack := "TypeError: x is undefined\n    at render (http://localhost:3000/src/card.js:10:5)"

	tests := []struct {
		name      string
		opts      reportOptions
		stdin     string
		wantErr   bool
		wantSev   types.Severity
		wantStack string
	}{
		{
			name:    "minimal",
			opts:    reportOptions{message: "boom", severity: "error"},
			wantSev: types.SeverityError,
		},
		{
			name:      "stack from stdin",
			opts:      reportOptions{message: "boom", severity: "fatal", stackFile: "-"},
			stdin:     stack,
			wantSev:   types.SeverityFatal,
			wantStack: stack,
		},
		{
			name:    "empty message",
			opts:    reportOptions{message: "  ", severity: "error"},
			wantErr: true,
		},
		{
			name:    "bad severity",
			opts:    reportOptions{message: "boom", severity: "info"},
			wantErr: true,
		},
		{
			name:    "missing stack file",
			opts:    reportOptions{message: "boom", severity: "error", stackFile: "/nonexistent/stack.txt"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := buildReport(tt.opts, strings.NewReader(tt.stdin), now)
			if tt.wantErr {
				if err == nil {
					t.Fatal("buildReport() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildReport() error: %v", err)
			}
			if p.ErrorID == "" {
				t.Error("ErrorID is empty")
			}
			if p.Timestamp != "2026-10-18T12:30:00Z" {
				t.Errorf("Timestamp = %q, want 2026-10-18T12:30:00Z", p.Timestamp)
			}
			if p.Error.Name != "Error" {
				t.Errorf("Error.Name = %q, want Error", p.Error.Name)
			}
			if p.Metadata.Severity != tt.wantSev {
				t.Errorf("Severity = %q, want %q", p.Metadata.Severity, tt.wantSev)
			}
			if p.Error.Stack != tt.wantStack {
				t.Errorf("Stack = %q, want %q", p.Error.Stack, tt.wantStack)
			}
			data, err := json.Marshal(p)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			if err := types.ValidatePayload(data); err != nil {
				t.Errorf("report payload does not validate: %v", err)
			}
		})
	}
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()

	p := &types.ErrorPayload{
		ErrorID:   "e1",
		Error:     types.ErrorInfo{Message: "boom"},
		Component: types.ComponentInfo{Name: "UserCard"},
		Metadata:  types.Metadata{Severity: types.SeverityError, OccurrenceCount: 3},
	}
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   types.CaptureEvent
		want []string
	}{
		{
			name: "inserted",
			ev:   types.NewCaptureEvent(p, types.OutcomeInserted, 1, "", at),
			want: []string{"[inserted]", "boom", "UserCard"},
		},
		{
			name: "merged shows count",
			ev:   types.NewCaptureEvent(p, types.OutcomeMerged, 3, "", at),
			want: []string{"[merged x3]"},
		},
		{
			name: "eviction",
			ev:   types.NewCaptureEvent(p, types.OutcomeInserted, 1, "old-1", at),
			want: []string{"(evicted old-1)"},
		},
		{
			name: "no payload",
			ev:   types.CaptureEvent{Outcome: types.OutcomeInserted, Message: "bare", CapturedAt: at},
			want: []string{"bare"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := formatEvent(tt.ev, false)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("formatEvent() = %q, want it to contain %q", got, w)
				}
			}
		})
	}
}

// fakeStream returns its batches in order and cancels once they run out.
type fakeStream struct {
	batches [][]redis.StreamEntry
	lastIDs []string
	cancel  context.CancelFunc
}

func (f *fakeStream) Read(_ context.Context, lastID string, _ int64, _ time.Duration) ([]redis.StreamEntry, error) {
	f.lastIDs = append(f.lastIDs, lastID)
	if len(f.batches) == 0 {
		f.cancel()
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func TestFollowStream(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := func(msg string) types.CaptureEvent {
		return types.CaptureEvent{Outcome: types.OutcomeInserted, Message: msg}
	}
	fs := &fakeStream{
		batches: [][]redis.StreamEntry{
			{{ID: "1-0", Event: ev("first")}, {ID: "2-0", Event: ev("second")}},
			{{ID: "3-0", Event: ev("third")}},
		},
		cancel: cancel,
	}

	var buf bytes.Buffer
	if err := followStream(ctx, fs, "0", newEventPrinter(&buf, false), resilience.NewBackoff(resilience.BackoffConfig{})); err != nil {
		t.Fatalf("followStream() error: %v", err)
	}

	want := []string{"0", "2-0", "3-0"}
	if len(fs.lastIDs) != len(want) {
		t.Fatalf("reads = %v, want %v", fs.lastIDs, want)
	}
	for i := range want {
		if fs.lastIDs[i] != want[i] {
			t.Errorf("read %d lastID = %q, want %q", i, fs.lastIDs[i], want[i])
		}
	}
	if got := strings.Count(buf.String(), "\n"); got != 3 {
		t.Errorf("printed %d lines, want 3:\n%s", got, buf.String())
	}
}

func TestFollowStream_ReadError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("connection reset")
	calls := 0
	r := readerFunc(func() ([]redis.StreamEntry, error) {
		calls++
		return nil, wantErr
	})

	retry := resilience.NewBackoff(resilience.BackoffConfig{MaxRetries: 2, InitialDelay: time.Millisecond})
	err := followStream(context.Background(), r, "0", newEventPrinter(&bytes.Buffer{}, false), retry)
	if !errors.Is(err, wantErr) {
		t.Errorf("followStream() error = %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("reads = %d, want 3 (first try plus two retries)", calls)
	}
}

type readerFunc func() ([]redis.StreamEntry, error)

func (f readerFunc) Read(context.Context, string, int64, time.Duration) ([]redis.StreamEntry, error) {
	return f()
}

func showStore(t *testing.T) *store.Store {
	t.Helper()

	st := store.New(store.Config{MaxSize: 10})
	for _, p := range []*types.ErrorPayload{
		{ErrorID: "a", Error: types.ErrorInfo{Message: "boom"}, Component: types.ComponentInfo{Name: "UserCard"}, Metadata: types.Metadata{Severity: types.SeverityError}},
		{ErrorID: "b", Error: types.ErrorInfo{Message: "slow"}, Component: types.ComponentInfo{Name: "UserCard"}, Metadata: types.Metadata{Severity: types.SeverityWarning}},
		{ErrorID: "c", Error: types.ErrorInfo{Message: "gone"}, Component: types.ComponentInfo{Name: "NavBar"}, Metadata: types.Metadata{Severity: types.SeverityFatal}},
	} {
		p.Normalize()
		st.AddError(p)
	}
	return st
}

func TestRenderShow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    showOptions
		want    []string
		notWant []string
		wantErr bool
	}{
		{
			name: "summary",
			opts: showOptions{limit: defaultShowLimit},
			want: []string{"3 errors in 2 components", "Error statistics"},
		},
		{
			name:    "by component",
			opts:    showOptions{component: "UserCard"},
			want:    []string{"boom", "slow"},
			notWant: []string{"gone"},
		},
		{
			name:    "by component and severity",
			opts:    showOptions{component: "UserCard", severity: "warning"},
			want:    []string{"slow"},
			notWant: []string{"boom", "gone"},
		},
		{
			name:    "by severity",
			opts:    showOptions{severity: "fatal"},
			want:    []string{"gone"},
			notWant: []string{"boom"},
		},
		{
			name: "single error",
			opts: showOptions{id: "c"},
			want: []string{"gone", "NavBar"},
		},
		{
			name:    "unknown id",
			opts:    showOptions{id: "zzz"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			err := renderShow(&buf, showStore(t), tt.opts, false)
			if tt.wantErr {
				if err == nil {
					t.Fatal("renderShow() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("renderShow() error: %v", err)
			}
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output contains %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestCountEntries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data string
		want int
	}{
		{`[]`, 0},
		{`[{"errorId":"a"},null]`, 2},
		{` [1] `, 1},
		{`{"errorId":"a"}`, -1},
		{`not json`, -1},
	}
	for _, tt := range tests {
		if got := countEntries([]byte(tt.data)); got != tt.want {
			t.Errorf("countEntries(%q) = %d, want %d", tt.data, got, tt.want)
		}
	}
}

func TestReadSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "errors.json")
	if err := os.WriteFile(file, []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Archive.Dir = filepath.Join(dir, "archive")

	a, err := archive.Open(archive.Config{Path: cfg.Archive.Dir})
	if err != nil {
		t.Fatalf("archive.Open() error: %v", err)
	}
	if _, err := a.Save(context.Background(), "t", []byte(`[{"errorId":"s1"}]`)); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	a.Close()

	tests := []struct {
		name    string
		src     source
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "file", src: source{file: file}, want: `[]`},
		{name: "stdin", src: source{file: "-"}, stdin: `[1]`, want: `[1]`},
		{name: "latest snapshot", src: source{snapshot: "latest"}, want: `[{"errorId":"s1"}]`},
		{name: "none", src: source{}, wantErr: true},
		{name: "two sources", src: source{file: file, snapshot: "latest"}, wantErr: true},
		{name: "missing file", src: source{file: filepath.Join(dir, "nope.json")}, wantErr: true},
	}

	// Badger holds a directory lock, so these run in sequence.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSource(context.Background(), cfg, tt.src, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatal("readSource() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("readSource() error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("readSource() = %s, want %s", got, tt.want)
			}
		})
	}
}

// runCLI executes the root command with args and returns its stdout.
// It touches package-level flag variables, so callers must not run in parallel.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_EndToEnd(t *testing.T) {
	st := store.New(store.Config{MaxSize: 50})
	srv := server.New(server.Config{Service: api.New(api.Config{Store: st})})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	out, err := runCLI(t, "--server", ts.URL, "report", "--message", "x is undefined", "--component", "UserCard", "--file", "card.js", "--line", "10")
	if err != nil {
		t.Fatalf("report error: %v", err)
	}
	if !strings.HasPrefix(out, "Captured ") {
		t.Errorf("report output = %q, want Captured prefix", out)
	}
	if _, err := runCLI(t, "--server", ts.URL, "report", "--message", "x is undefined", "--component", "UserCard", "--file", "card.js", "--line", "10"); err != nil {
		t.Fatalf("second report error: %v", err)
	}
	if st.GetErrorCount() != 1 {
		t.Errorf("GetErrorCount() = %d, want 1 after duplicate report", st.GetErrorCount())
	}

	out, err = runCLI(t, "--server", ts.URL, "list")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(out, "x is undefined") || !strings.Contains(out, "x2") {
		t.Errorf("list output = %q, want the error with x2", out)
	}

	if _, err := runCLI(t, "--server", ts.URL, "list", "--severity", "info"); err == nil {
		t.Error("list --severity info expected error, got nil")
	}

	exportFile := filepath.Join(t.TempDir(), "errors.json")
	if _, err := runCLI(t, "--server", ts.URL, "export", "--out", exportFile); err != nil {
		t.Fatalf("export error: %v", err)
	}

	out, err = runCLI(t, "show", exportFile)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	if !strings.Contains(out, "1 error in 1 component") {
		t.Errorf("show output = %q, want one-error summary", out)
	}

	out, err = runCLI(t, "--server", ts.URL, "clear")
	if err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if out != "Cleared 1 errors\n" {
		t.Errorf("clear output = %q, want %q", out, "Cleared 1 errors\n")
	}

	out, err = runCLI(t, "--server", ts.URL, "import", exportFile)
	if err != nil {
		t.Fatalf("import error: %v", err)
	}
	if out != "Imported 1 errors (0 skipped)\n" {
		t.Errorf("import output = %q", out)
	}
	if st.GetErrorCount() != 1 {
		t.Errorf("GetErrorCount() after import = %d, want 1", st.GetErrorCount())
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "devcapture version dev") {
		t.Errorf("version output = %q", out)
	}
}
