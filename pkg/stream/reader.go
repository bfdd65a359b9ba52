// Package stream reads edge records from per-unit tabular files.
//
// Each line carries at least a source and a target identifier, separated by
// a single comma, optionally followed by a timestamp column. Fields are
// trimmed of surrounding whitespace. The first non-blank line is a header
// and skipped when its first field is exactly SOURCE; blank lines are
// skipped too. Quoting is not recognised, so identifiers must not contain
// commas.
//
//	SOURCE,TARGET,TIMESTAMP
//	alice,bob,2019-03-01 10:15:00
//	bob,carol,2019-03-01 11:02:44
//
// Malformed lines do not stop the reader: they are recorded as Issues with
// their line number and skipped. That includes lines longer than 1 MiB,
// which are discarded without being buffered whole.
package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/orneryd/edgesample/pkg/sample"
)

// DefaultTimeLayout matches timestamps such as "2019-03-01 10:15:00".
const DefaultTimeLayout = "2006-01-02 15:04:05"

const (
	headerField   = "SOURCE"
	fieldSep      = ","
	maxLineLength = 1 << 20
)

// Options controls record parsing.
type Options struct {
	// TimeColumn is the zero-based column holding the timestamp, or -1 when
	// the input has none.
	TimeColumn int
	// TimeLayout is a time.Parse layout. Defaults to DefaultTimeLayout.
	TimeLayout string
	// Location is used for timestamps without a zone. Defaults to UTC.
	Location *time.Location
	// RequireTime turns a missing or empty timestamp into an Issue.
	RequireTime bool
}

// DefaultOptions reads the timestamp from the third column when present.
func DefaultOptions() Options {
	return Options{
		TimeColumn: 2,
		TimeLayout: DefaultTimeLayout,
		Location:   time.UTC,
	}
}

// Issue is a malformed record that was skipped.
type Issue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Text   string `json:"text"`
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Reason)
}

// Reader yields edges from one input unit.
type Reader struct {
	br     *bufio.Reader
	opts   Options
	line   int
	data   bool
	issues []Issue
}

// NewReader wraps r.
func NewReader(r io.Reader, opts Options) *Reader {
	if opts.TimeLayout == "" {
		opts.TimeLayout = DefaultTimeLayout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Reader{br: bufio.NewReaderSize(r, 64*1024), opts: opts}
}

// Next returns the next well-formed edge. It returns io.EOF once the input
// is exhausted and any other error when the underlying reader fails.
func (r *Reader) Next() (sample.Edge, error) {
	for {
		text, tooLong, err := r.readLine()
		if errors.Is(err, io.EOF) {
			return sample.Edge{}, io.EOF
		}
		if err != nil {
			return sample.Edge{}, fmt.Errorf("stream: read after line %d: %w", r.line, err)
		}
		r.line++
		if tooLong {
			r.data = true
			r.issues = append(r.issues, Issue{
				Line:   r.line,
				Reason: fmt.Sprintf("line exceeds %d bytes", maxLineLength),
			})
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		if !r.data {
			r.data = true
			if isHeader(trimmed) {
				continue
			}
		}
		e, reason := r.parse(trimmed)
		if reason != "" {
			r.issues = append(r.issues, Issue{Line: r.line, Reason: reason, Text: trimmed})
			continue
		}
		return e, nil
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineLength is consumed to its end and reported with tooLong set.
func (r *Reader) readLine() (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(chunk) > maxLineLength {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}

func isHeader(line string) bool {
	first, _, _ := strings.Cut(line, fieldSep)
	return strings.TrimSpace(first) == headerField
}

// Issues returns the malformed records seen so far.
func (r *Reader) Issues() []Issue {
	return r.issues
}

// Line returns the number of lines consumed.
func (r *Reader) Line() int {
	return r.line
}

func (r *Reader) parse(text string) (sample.Edge, string) {
	fields := strings.Split(text, fieldSep)
	if len(fields) < 2 {
		return sample.Edge{}, fmt.Sprintf("expected at least 2 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	e := sample.Edge{Source: fields[0], Target: fields[1], Line: r.line}
	if e.Source == "" || e.Target == "" {
		return sample.Edge{}, "empty source or target"
	}

	col := r.opts.TimeColumn
	if col < 0 {
		return e, ""
	}
	if col >= len(fields) || fields[col] == "" {
		if r.opts.RequireTime {
			return sample.Edge{}, fmt.Sprintf("missing timestamp in column %d", col)
		}
		return e, ""
	}
	ts, err := time.ParseInLocation(r.opts.TimeLayout, fields[col], r.opts.Location)
	if err != nil {
		if r.opts.RequireTime {
			return sample.Edge{}, fmt.Sprintf("unparseable timestamp %q", fields[col])
		}
		return e, ""
	}
	e.Time = ts
	return e, ""
}
