// Package storage provides the snapshot archive for edgesample.
//
// BadgerArchive keeps every emitted snapshot in BadgerDB, keyed by run and
// unit, next to a small metadata record used for listing. The tabular
// snapshot files stay the primary output; the archive lets later runs and
// the CLI look back at the sample of any past (run, unit) without keeping
// thousands of files around.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/edgesample/pkg/snapshot"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixSnapshot = byte(0x01) // snap:runID:unit -> JSON(Snapshot)
	prefixMeta     = byte(0x02) // meta:runID:unit -> JSON(Meta)
)

var (
	ErrNotFound      = errors.New("not found")
	ErrArchiveClosed = errors.New("archive closed")
	ErrInvalidRunID  = errors.New("invalid run id")
)

// Meta summarizes one archived snapshot.
type Meta struct {
	RunID     string `json:"run_id"`
	Unit      int    `json:"unit"`
	Policy    string `json:"policy"`
	Edges     int    `json:"edges"`
	CreatedAt int64  `json:"created_at"`
}

// BadgerArchive stores snapshots in BadgerDB.
//
// Key Structure:
//   - Snapshots: 0x01 + runID + 0x00 + uint32(unit) -> JSON(Snapshot)
//   - Metadata:  0x02 + runID + 0x00 + uint32(unit) -> JSON(Meta)
//
// Big-endian unit numbers keep a run's units in numeric order during
// prefix scans.
//
// Example:
//
//	archive, err := storage.NewBadgerArchive("./data/archive")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer archive.Close()
//
//	engine := engine.New(policy, source, engine.WithSinks(archive))
type BadgerArchive struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures the BadgerDB archive.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB logging is disabled.
	Logger badger.Logger
}

// NewBadgerArchive opens (or creates) an archive in dataDir.
func NewBadgerArchive(dataDir string) (*BadgerArchive, error) {
	return NewBadgerArchiveWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerArchiveInMemory creates an in-memory archive for testing.
func NewBadgerArchiveInMemory() (*BadgerArchive, error) {
	return NewBadgerArchiveWithOptions(BadgerOptions{InMemory: true})
}

// NewBadgerArchiveWithOptions creates a BadgerArchive with custom configuration.
func NewBadgerArchiveWithOptions(opts BadgerOptions) (*BadgerArchive, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	// Snapshots are small and written once per unit; keep the footprint low.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerArchive{db: db}, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func runPrefix(prefix byte, runID string) []byte {
	key := make([]byte, 0, 1+len(runID)+1)
	key = append(key, prefix)
	key = append(key, runID...)
	key = append(key, 0x00)
	return key
}

func unitKey(prefix byte, runID string, unit int) []byte {
	key := runPrefix(prefix, runID)
	return binary.BigEndian.AppendUint32(key, uint32(unit))
}

func validRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	for i := 0; i < len(runID); i++ {
		if runID[i] == 0x00 {
			return fmt.Errorf("%w: contains NUL", ErrInvalidRunID)
		}
	}
	return nil
}

// ============================================================================
// Operations
// ============================================================================

// Emit implements snapshot.Sink.
func (a *BadgerArchive) Emit(snap *snapshot.Snapshot) error {
	return a.Put(snap)
}

// Put stores snap, replacing any snapshot archived for the same run and unit.
func (a *BadgerArchive) Put(snap *snapshot.Snapshot) error {
	if err := validRunID(snap.RunID); err != nil {
		return err
	}
	if snap.Unit < 0 {
		return fmt.Errorf("archive: negative unit %d", snap.Unit)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiveClosed
	}

	data, err := serializeSnapshot(snap)
	if err != nil {
		return err
	}
	meta, err := serializeMeta(metaOf(snap))
	if err != nil {
		return err
	}

	return a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(unitKey(prefixSnapshot, snap.RunID, snap.Unit), data); err != nil {
			return err
		}
		return txn.Set(unitKey(prefixMeta, snap.RunID, snap.Unit), meta)
	})
}

// Get loads the snapshot archived for runID and unit.
func (a *BadgerArchive) Get(runID string, unit int) (*snapshot.Snapshot, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrArchiveClosed
	}

	var snap *snapshot.Snapshot
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(unitKey(prefixSnapshot, runID, unit))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			snap, derr = deserializeSnapshot(val)
			return derr
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// List returns the metadata of archived snapshots. An empty runID lists every
// run. Results come back in key order: by run, then unit. Run ids cannot
// contain NUL, so the 0x00 terminator sorts "a" before "ab".
func (a *BadgerArchive) List(runID string) ([]Meta, error) {
	prefix := []byte{prefixMeta}
	if runID != "" {
		if err := validRunID(runID); err != nil {
			return nil, err
		}
		prefix = runPrefix(prefixMeta, runID)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, ErrArchiveClosed
	}

	var out []Meta
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				m, err := deserializeMeta(val)
				if err != nil {
					return err
				}
				out = append(out, *m)
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
	return out, nil
}

// Close closes the underlying database. It is safe to call more than once.
func (a *BadgerArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.db.Close()
}

func metaOf(snap *snapshot.Snapshot) *Meta {
	return &Meta{
		RunID:     snap.RunID,
		Unit:      snap.Unit,
		Policy:    snap.Policy,
		Edges:     len(snap.Entries),
		CreatedAt: snap.CreatedAt.UnixMilli(),
	}
}
