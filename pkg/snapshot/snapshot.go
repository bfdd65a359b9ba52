// Package snapshot serializes the live sample after each processed unit.
//
// The primary output is one tabular file per unit:
//
//	SOURCE,TARGET,WEIGHT
//	alice,bob,2
//	bob,carol,0.96
//
// Rows are ordered by (source, target) so consecutive snapshots diff
// cleanly; Collect produces that order from a live store. Files are written to a temporary path and renamed into place, so a
// failed write never leaves a truncated snapshot behind.
package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/btree"

	"github.com/orneryd/edgesample/pkg/sample"
)

// Header is the first line of every snapshot file.
const Header = "SOURCE,TARGET,WEIGHT"

// Snapshot is the sample as of the end of one unit.
type Snapshot struct {
	RunID     string         `json:"run_id"`
	Unit      int            `json:"unit"`
	Policy    string         `json:"policy"`
	CreatedAt time.Time      `json:"created_at"`
	Entries   []sample.Entry `json:"entries"`
}

// Sink receives snapshots.
type Sink interface {
	Emit(snap *Snapshot) error
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

// Emit implements Sink. Every sink is attempted even if an earlier one fails.
func (m MultiSink) Emit(snap *Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatWeight prints w with the shortest representation that parses back
// to the same value: 2 for integer counts, 0.96 for decayed scores.
func FormatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', -1, 64)
}

func entryLess(a, b sample.Entry) bool {
	return a.Key.Less(b.Key)
}

// Collect copies the live entries of store in (source, target) order.
func Collect(store *sample.Store) []sample.Entry {
	ordered := btree.NewBTreeG[sample.Entry](entryLess)
	store.Each(func(e sample.Entry) {
		ordered.Set(e)
	})
	out := make([]sample.Entry, 0, ordered.Len())
	ordered.Scan(func(e sample.Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Encode writes the header and one row per entry in the order given.
// Snapshots built with Collect are already in key order.
func Encode(w io.Writer, entries []sample.Entry) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n"); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s,%s,%s\n", e.Key.Source, e.Key.Target, FormatWeight(e.Weight)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Writer writes one snapshot file per unit into Dir.
type Writer struct {
	Dir     string
	Pattern string
}

// NewWriter returns a Writer. An empty pattern names files by unit number.
func NewWriter(dir, pattern string) *Writer {
	if pattern == "" {
		pattern = "%d"
	}
	return &Writer{Dir: dir, Pattern: pattern}
}

// Path returns the file a unit's snapshot is written to.
func (w *Writer) Path(unit int) string {
	return filepath.Join(w.Dir, fmt.Sprintf(w.Pattern, unit))
}

// Emit implements Sink.
func (w *Writer) Emit(snap *Snapshot) error {
	return WriteFile(w.Path(snap.Unit), snap.Entries)
}

// WriteFile atomically replaces path with an encoded snapshot.
func WriteFile(path string, entries []sample.Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("snapshot: failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("snapshot: failed to create file: %w", err)
	}

	if err := Encode(file, entries); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: failed to encode: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: failed to sync: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: failed to close: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: failed to rename: %w", err)
	}
	return nil
}
