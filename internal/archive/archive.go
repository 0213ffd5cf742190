// ABOUTME: BadgerDB archive of error store export snapshots
// ABOUTME: Saves, lists, loads and prunes snapshots keyed by time-ordered ids

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	metaPrefix = "meta:"
	dataPrefix = "data:"
)

// ErrNotFound is returned when a snapshot id does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Config holds configuration for the archive.
type Config struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes (slower but safer).
	SyncWrites bool

	// Logger receives badger's own log output. Nil disables it.
	Logger *slog.Logger

	// Now is the clock used for snapshot ids.
	Now func() time.Time
}

// Snapshot describes one archived export.
type Snapshot struct {
	ID         string    `json:"id"`
	Label      string    `json:"label,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ErrorCount int       `json:"errorCount"`
	SizeBytes  int       `json:"sizeBytes"`
}

// Archive stores export snapshots in BadgerDB.
type Archive struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens or creates an archive.
func Open(cfg Config) (*Archive, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("archive path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Archive{db: db, now: now}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Save stores an export (a JSON array of payloads) under a new snapshot id.
func (a *Archive) Save(ctx context.Context, label string, data []byte) (*Snapshot, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("export must be a JSON array: %w", err)
	}

	created := a.now().UTC()
	snap := &Snapshot{
		ID:         newSnapshotID(created),
		Label:      label,
		CreatedAt:  created,
		ErrorCount: len(entries),
		SizeBytes:  len(data),
	}

	meta, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot meta: %w", err)
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaPrefix+snap.ID), meta); err != nil {
			return fmt.Errorf("setting meta key: %w", err)
		}
		if err := txn.Set([]byte(dataPrefix+snap.ID), data); err != nil {
			return fmt.Errorf("setting data key: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns all snapshots, newest first.
func (a *Archive) List(ctx context.Context) ([]Snapshot, error) {
	var snaps []Snapshot

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(metaPrefix)
		// Reverse iteration seeks from the largest key with the prefix.
		seek := append([]byte(metaPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var s Snapshot
				if err := json.Unmarshal(val, &s); err != nil {
					return fmt.Errorf("unmarshaling snapshot %s: %w", it.Item().Key(), err)
				}
				snaps = append(snaps, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// Load returns a snapshot's metadata and export data.
// The id "latest" resolves to the newest snapshot.
func (a *Archive) Load(ctx context.Context, id string) (*Snapshot, []byte, error) {
	if id == "latest" {
		snaps, err := a.List(ctx)
		if err != nil {
			return nil, nil, err
		}
		if len(snaps) == 0 {
			return nil, nil, ErrNotFound
		}
		id = snaps[0].ID
	}

	var (
		snap Snapshot
		data []byte
	)
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("getting meta key: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		}); err != nil {
			return fmt.Errorf("unmarshaling snapshot %s: %w", id, err)
		}

		item, err = txn.Get([]byte(dataPrefix + id))
		if err != nil {
			return fmt.Errorf("getting data key: %w", err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &snap, data, nil
}

// Delete removes a snapshot. Deleting a missing id returns ErrNotFound.
func (a *Archive) Delete(ctx context.Context, id string) error {
	return a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + id)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return fmt.Errorf("getting meta key: %w", err)
		}
		if err := txn.Delete([]byte(metaPrefix + id)); err != nil {
			return fmt.Errorf("deleting meta key: %w", err)
		}
		return txn.Delete([]byte(dataPrefix + id))
	})
}

// Prune keeps the newest keep snapshots and deletes the rest.
// It returns how many were deleted.
func (a *Archive) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	snaps, err := a.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) <= keep {
		return 0, nil
	}

	wb := a.db.NewWriteBatch()
	defer wb.Cancel()

	stale := snaps[keep:]
	for _, s := range stale {
		if err := wb.Delete([]byte(metaPrefix + s.ID)); err != nil {
			return 0, fmt.Errorf("deleting meta key: %w", err)
		}
		if err := wb.Delete([]byte(dataPrefix + s.ID)); err != nil {
			return 0, fmt.Errorf("deleting data key: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flushing prune: %w", err)
	}
	return len(stale), nil
}

// newSnapshotID returns an id that sorts by creation time.
func newSnapshotID(t time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return t.Format("20060102T150405.000000000Z") + "-" + suffix
}

// badgerLogger routes badger's printf-style logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), slog.String("component", "badger"))
}
