// ABOUTME: Bounded, deduplicating, insertion-ordered in-memory error store
// ABOUTME: Merges equal signatures, evicts oldest entries FIFO, and exports JSON

package store

import (
	"encoding/json"
	"sync"

	"github.com/hikmaai-io/devcapture/internal/types"
)

// DefaultMaxSize is the capacity used when none is configured.
const DefaultMaxSize = 1000

// Outcome describes what AddError did with a payload.
type Outcome int

const (
	// OutcomeInserted means the payload became a new entry.
	OutcomeInserted Outcome = iota
	// OutcomeMerged means the payload matched a live signature and bumped its count.
	OutcomeMerged
	// OutcomeReplaced means an entry with the same errorId was overwritten in place.
	OutcomeReplaced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeMerged:
		return "merged"
	case OutcomeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// AddResult reports the effect of a single AddError call.
type AddResult struct {
	Outcome Outcome

	// ErrorID is the id of the live entry holding the error.
	// On merge this is the id of the first occurrence.
	ErrorID string

	// Signature is the dedup key of the payload.
	Signature string

	// OccurrenceCount is the entry's count after the call.
	OccurrenceCount int

	// EvictedID is the id of the entry evicted to make room, if any.
	EvictedID string
}

// Config holds store configuration.
type Config struct {
	// MaxSize is the capacity. Zero or negative uses DefaultMaxSize.
	MaxSize int
}

// Filter selects entries for Query.
type Filter struct {
	// Component matches component names exactly. Empty matches all.
	Component string

	// Severity matches metadata severity. Empty matches all.
	Severity types.Severity

	// Limit keeps only the last N matches. Zero or negative keeps all.
	Limit int
}

// Store holds captured errors keyed by errorId in insertion order.
// It never holds two entries with equal signatures.
// All methods are safe for concurrent use; readers get deep copies.
type Store struct {
	mu          sync.RWMutex
	maxSize     int
	order       []string
	entries     map[string]*types.ErrorPayload
	bySignature map[string]string
}

// New creates an empty store.
func New(cfg Config) *Store {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	return &Store{
		maxSize:     cfg.MaxSize,
		entries:     make(map[string]*types.ErrorPayload),
		bySignature: make(map[string]string),
	}
}

// MaxSize returns the store capacity.
func (s *Store) MaxSize() int {
	return s.maxSize
}

// AddError adds a payload, merging it into an existing entry with the same
// signature or evicting the oldest entry when the store is full.
// The store keeps its own copy; the caller's payload is never retained.
func (s *Store) AddError(payload *types.ErrorPayload) AddResult {
	p := payload.Clone()
	if p.Metadata.OccurrenceCount < 1 {
		p.Metadata.OccurrenceCount = 1
	}
	sig := p.Signature()

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.bySignature[sig]; ok {
		existing := s.entries[id]
		existing.Metadata.OccurrenceCount++
		existing.Timestamp = p.Timestamp
		return AddResult{
			Outcome:         OutcomeMerged,
			ErrorID:         id,
			Signature:       sig,
			OccurrenceCount: existing.Metadata.OccurrenceCount,
		}
	}

	if old, ok := s.entries[p.ErrorID]; ok {
		delete(s.bySignature, old.Signature())
		s.entries[p.ErrorID] = p
		s.bySignature[sig] = p.ErrorID
		return AddResult{
			Outcome:         OutcomeReplaced,
			ErrorID:         p.ErrorID,
			Signature:       sig,
			OccurrenceCount: p.Metadata.OccurrenceCount,
		}
	}

	var evicted string
	if len(s.order) >= s.maxSize {
		evicted = s.evictOldestLocked()
	}

	s.order = append(s.order, p.ErrorID)
	s.entries[p.ErrorID] = p
	s.bySignature[sig] = p.ErrorID

	return AddResult{
		Outcome:         OutcomeInserted,
		ErrorID:         p.ErrorID,
		Signature:       sig,
		OccurrenceCount: p.Metadata.OccurrenceCount,
		EvictedID:       evicted,
	}
}

func (s *Store) evictOldestLocked() string {
	if len(s.order) == 0 {
		return ""
	}
	id := s.order[0]
	s.order[0] = ""
	s.order = s.order[1:]
	if old, ok := s.entries[id]; ok {
		delete(s.bySignature, old.Signature())
		delete(s.entries, id)
	}
	return id
}

// GetError returns a copy of the entry with the given id.
func (s *Store) GetError(id string) (*types.ErrorPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// GetErrors returns copies of all entries in insertion order.
func (s *Store) GetErrors() []*types.ErrorPayload {
	return s.Query(Filter{})
}

// GetErrorsByComponent returns entries whose component name matches.
func (s *Store) GetErrorsByComponent(name string) []*types.ErrorPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectLocked(func(p *types.ErrorPayload) bool {
		return p.Component.Name == name
	})
}

// GetErrorsBySeverity returns entries with the given severity.
func (s *Store) GetErrorsBySeverity(sev types.Severity) []*types.ErrorPayload {
	return s.Query(Filter{Severity: sev})
}

// GetRecentErrors returns the last n entries by insertion order.
func (s *Store) GetRecentErrors(n int) []*types.ErrorPayload {
	if n <= 0 {
		return []*types.ErrorPayload{}
	}
	return s.Query(Filter{Limit: n})
}

// Query returns entries matching the filter in insertion order.
// The limit is applied after filtering and keeps the most recent matches.
func (s *Store) Query(f Filter) []*types.ErrorPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collectLocked(func(p *types.ErrorPayload) bool {
		if f.Component != "" && p.Component.Name != f.Component {
			return false
		}
		if f.Severity != "" && p.Metadata.Severity != f.Severity {
			return false
		}
		return true
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (s *Store) collectLocked(keep func(*types.ErrorPayload) bool) []*types.ErrorPayload {
	out := make([]*types.ErrorPayload, 0, len(s.order))
	for _, id := range s.order {
		p := s.entries[id]
		if keep(p) {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ClearErrors drops all entries and returns how many there were.
func (s *Store) ClearErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.order)
	s.order = nil
	s.entries = make(map[string]*types.ErrorPayload)
	s.bySignature = make(map[string]string)
	return n
}

// Reset discards all state. Intended for test isolation.
func (s *Store) Reset() {
	s.ClearErrors()
}

// GetErrorCount returns the number of live entries.
func (s *Store) GetErrorCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Statistics summarizes the store contents.
type Statistics struct {
	TotalErrors      int            `json:"totalErrors"`
	TotalOccurrences int            `json:"totalOccurrences"`
	ByComponent      map[string]int `json:"byComponent"`
	BySeverity       map[string]int `json:"bySeverity"`
}

// GetStatistics returns entry and occurrence totals grouped by component and severity.
func (s *Store) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		TotalErrors: len(s.order),
		ByComponent: make(map[string]int),
		BySeverity:  make(map[string]int),
	}
	for _, id := range s.order {
		p := s.entries[id]
		stats.TotalOccurrences += p.Metadata.OccurrenceCount
		stats.ByComponent[p.ComponentName()]++
		stats.BySeverity[string(p.Metadata.Severity)]++
	}
	return stats
}

// ExportAsJSON returns all entries as an indented JSON array.
func (s *Store) ExportAsJSON() ([]byte, error) {
	return json.MarshalIndent(s.GetErrors(), "", "  ")
}

// ImportFromJSON feeds each element of a JSON array through AddError and
// returns the number of elements attempted. Null and non-object elements are
// skipped; input that is not an array imports nothing.
func (s *Store) ImportFromJSON(data []byte) int {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0
	}

	n := 0
	for _, raw := range items {
		var p *types.ErrorPayload
		if err := json.Unmarshal(raw, &p); err != nil || p == nil {
			continue
		}
		s.AddError(p)
		n++
	}
	return n
}
