package stream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultUnitPattern names unit files by their number: 1, 2, 3, ...
const DefaultUnitPattern = "%d"

// Dir opens numbered unit files from a directory.
type Dir struct {
	Root    string
	Pattern string
}

// NewDir returns a Dir for root. An empty pattern uses DefaultUnitPattern.
func NewDir(root, pattern string) *Dir {
	if pattern == "" {
		pattern = DefaultUnitPattern
	}
	return &Dir{Root: root, Pattern: pattern}
}

// Path returns the file path of unit.
func (d *Dir) Path(unit int) string {
	return filepath.Join(d.Root, fmt.Sprintf(d.Pattern, unit))
}

// Open opens unit for reading.
func (d *Dir) Open(unit int) (io.ReadCloser, error) {
	f, err := os.Open(d.Path(unit))
	if err != nil {
		return nil, fmt.Errorf("stream: open unit %d: %w", unit, err)
	}
	return f, nil
}
