// Package audit implements the run's append-only audit trail. The trail is
// intentionally separate from application logs: slog output is ephemeral debug
// material for operators, while the audit trail is the authoritative record a
// compliance reviewer reads after the fact. Entries must appear in exact
// emission order and are never deduplicated, reordered, or dropped — the line
// count is itself a testable property of a run.
//
// The Recorder writes each event to a Sink and echoes the bare message to an
// operator-visible writer (normally stdout). Sinks can be fanned out with
// MultiSink so the same trail can be shipped to more than one destination
// without the engine knowing.
package audit

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ajayirepos/EchelonID/internal/telemetry"
)

// Event is a single audit trail entry.
type Event struct {
	Timestamp time.Time
	Message   string
}

// Line renders the event in the trail's on-disk format.
func (e Event) Line() string {
	return fmt.Sprintf("[%s] %s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Message)
}

// Sink receives audit events in emission order.
type Sink interface {
	Write(ev Event) error
	Close() error
}

// Recorder is the process-wide audit recorder for one run. It is acquired once
// at run start and must be closed exactly once on every exit path.
type Recorder struct {
	mu      sync.Mutex
	sink    Sink
	echo    io.Writer
	now     func() time.Time
	emitted int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithEcho sets the operator-visible channel the bare message is echoed to.
// Defaults to stdout.
func WithEcho(w io.Writer) Option {
	return func(r *Recorder) { r.echo = w }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder writing to sink.
func NewRecorder(sink Sink, opts ...Option) *Recorder {
	r := &Recorder{sink: sink, echo: os.Stdout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one event to the trail and echoes the message to the
// operator channel. A sink write failure is returned to the caller because a
// trail with silent gaps is worse than an aborted run.
func (r *Recorder) Record(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := Event{Timestamp: r.now(), Message: message}
	if err := r.sink.Write(ev); err != nil {
		return fmt.Errorf("audit sink write: %w", err)
	}
	r.emitted++
	telemetry.AuditEventsTotal.Inc()
	fmt.Fprintln(r.echo, message)
	return nil
}

// Recordf is Record with Sprintf formatting.
func (r *Recorder) Recordf(format string, args ...any) error {
	return r.Record(fmt.Sprintf(format, args...))
}

// Emitted returns the number of events recorded so far.
func (r *Recorder) Emitted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emitted
}

// Close flushes and closes the underlying sink.
func (r *Recorder) Close() error {
	return r.sink.Close()
}

// FileSink appends trail lines to a file. The file is opened O_APPEND so
// successive runs against the same log accumulate, matching the trail's
// append-only contract across runs, not just within one.
type FileSink struct {
	f *os.File
	w *bufio.Writer
}

// NewFileSink opens (or creates) the trail file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one formatted trail line.
func (s *FileSink) Write(ev Event) error {
	if _, err := s.w.WriteString(ev.Line() + "\n"); err != nil {
		return err
	}
	// Flush per event so the trail on disk never lags emission order if the
	// process dies mid-run.
	return s.w.Flush()
}

// Close flushes buffered lines and closes the file.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MultiSink fans events out to several sinks. Write errors from one sink do
// not stop delivery to the others; the last error is returned.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write delivers the event to every sink.
func (m *MultiSink) Write(ev Event) error {
	var lastErr error
	for _, s := range m.sinks {
		if err := s.Write(ev); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var lastErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WriterSink adapts any io.Writer into a Sink. Close is a no-op; the caller
// owns the writer's lifetime. Used for tests and for mirroring the trail into
// an in-memory buffer.
type WriterSink struct {
	W io.Writer
}

// Write appends one formatted trail line to the writer.
func (s WriterSink) Write(ev Event) error {
	_, err := fmt.Fprintln(s.W, ev.Line())
	return err
}

// Close is a no-op.
func (s WriterSink) Close() error { return nil }
