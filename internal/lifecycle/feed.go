// feed.go parses the HR events feed that drives the lifecycle stage. The feed
// is a CSV batch of op,user_id,full_name,department,role rows replayed in
// order; malformed rows are reported per-row and skipped so one bad record
// never sinks the batch.
package lifecycle

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Lifecycle operation names as they appear in the feed.
const (
	OpJoiner = "joiner"
	OpMover  = "mover"
	OpLeaver = "leaver"
)

// ErrFeedNotFound indicates no events feed exists at the configured location.
// The lifecycle stage then applies zero events; this is not a run failure.
var ErrFeedNotFound = errors.New("events feed not found")

// Event is one parsed HR feed row.
type Event struct {
	Op         string
	UserID     string
	FullName   string
	Department string
	Role       string
}

// RowError describes a feed row that could not be parsed. Row numbers are
// 1-based and count the header.
type RowError struct {
	Row    int
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

var feedHeader = []string{"op", "user_id", "full_name", "department", "role"}

// ReadFeed parses the events feed at path. Structural problems with a single
// row are collected into the returned RowError slice; only file-level
// failures (missing file, unreadable file, bad header) are returned as an
// error.
func ReadFeed(path string) ([]Event, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrFeedNotFound, path)
		}
		return nil, nil, fmt.Errorf("open events feed: %w", err)
	}
	defer f.Close()
	return parseFeed(f, path)
}

func parseFeed(r io.Reader, name string) ([]Event, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row width checked per-op below

	head, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("events feed %s: missing header row", name)
	}
	if len(head) != len(feedHeader) {
		return nil, nil, fmt.Errorf("events feed %s: header has %d columns, want %d", name, len(head), len(feedHeader))
	}
	for i, col := range feedHeader {
		if head[i] != col {
			return nil, nil, fmt.Errorf("events feed %s: column %d is %q, want %q", name, i, head[i], col)
		}
	}

	var events []Event
	var rowErrs []RowError
	row := 1
	for {
		row++
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: row, Reason: err.Error()})
			continue
		}
		ev, reason := parseRow(fields)
		if reason != "" {
			rowErrs = append(rowErrs, RowError{Row: row, Reason: reason})
			continue
		}
		events = append(events, ev)
	}
	return events, rowErrs, nil
}

// parseRow validates one data row. Each op requires a different subset of
// columns filled: joiners need everything, movers need user_id and role,
// leavers only user_id.
func parseRow(fields []string) (Event, string) {
	for len(fields) < len(feedHeader) {
		fields = append(fields, "")
	}
	ev := Event{
		Op:         strings.ToLower(strings.TrimSpace(fields[0])),
		UserID:     strings.TrimSpace(fields[1]),
		FullName:   strings.TrimSpace(fields[2]),
		Department: strings.TrimSpace(fields[3]),
		Role:       strings.TrimSpace(fields[4]),
	}
	if ev.UserID == "" {
		return Event{}, "missing user_id"
	}
	switch ev.Op {
	case OpJoiner:
		if ev.FullName == "" || ev.Department == "" || ev.Role == "" {
			return Event{}, "joiner requires full_name, department, and role"
		}
	case OpMover:
		if ev.Role == "" {
			return Event{}, "mover requires role"
		}
	case OpLeaver:
		// user_id alone is enough
	default:
		return Event{}, fmt.Sprintf("unknown op %q", fields[0])
	}
	return ev, ""
}
