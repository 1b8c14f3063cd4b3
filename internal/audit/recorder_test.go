package audit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return ts }
}

// failSink returns an error on every write.
type failSink struct{}

func (failSink) Write(Event) error { return fmt.Errorf("disk full") }
func (failSink) Close() error      { return nil }

// ---------------------------------------------------------------------------
// Event formatting
// ---------------------------------------------------------------------------

func TestEventLine_Format(t *testing.T) {
	ev := Event{
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Message:   "JOINER: Created account for John Taylor (U004) in IT with role DevOps",
	}
	want := "[2026-03-14 09:26:53] JOINER: Created account for John Taylor (U004) in IT with role DevOps"
	if got := ev.Line(); got != want {
		t.Errorf("Line() = %q, want %q", got, want)
	}
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecord_WritesSinkAndEchoes(t *testing.T) {
	var trail, console bytes.Buffer
	r := NewRecorder(WriterSink{W: &trail}, WithEcho(&console), WithClock(fixedClock()))

	if err := r.Record("LEAVER: Disabled access for U003"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if got := trail.String(); got != "[2026-03-14 09:26:53] LEAVER: Disabled access for U003\n" {
		t.Errorf("trail = %q", got)
	}
	if got := console.String(); got != "LEAVER: Disabled access for U003\n" {
		t.Errorf("console echo = %q", got)
	}
}

func TestRecord_PreservesEmissionOrder(t *testing.T) {
	var trail bytes.Buffer
	r := NewRecorder(WriterSink{W: &trail}, WithEcho(&bytes.Buffer{}), WithClock(fixedClock()))

	messages := []string{
		"JOINER: Created account for John Taylor (U004) in IT with role DevOps",
		"MOVER: Updated U002 role from Engineer -> Analyst",
		"LEAVER: Disabled access for U003",
	}
	for _, msg := range messages {
		if err := r.Record(msg); err != nil {
			t.Fatalf("Record(%q): %v", msg, err)
		}
	}

	lines := strings.Split(strings.TrimRight(trail.String(), "\n"), "\n")
	if len(lines) != len(messages) {
		t.Fatalf("trail has %d lines, want %d", len(lines), len(messages))
	}
	for i, msg := range messages {
		if !strings.HasSuffix(lines[i], msg) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], msg)
		}
	}
	if r.Emitted() != len(messages) {
		t.Errorf("Emitted = %d, want %d", r.Emitted(), len(messages))
	}
}

func TestRecord_SinkFailureSurfaces(t *testing.T) {
	var console bytes.Buffer
	r := NewRecorder(failSink{}, WithEcho(&console))

	if err := r.Record("anything"); err == nil {
		t.Fatal("expected sink write error")
	}
	if console.Len() != 0 {
		t.Error("message echoed despite sink failure")
	}
	if r.Emitted() != 0 {
		t.Errorf("Emitted = %d after failed write, want 0", r.Emitted())
	}
}

func TestRecordf(t *testing.T) {
	var trail bytes.Buffer
	r := NewRecorder(WriterSink{W: &trail}, WithEcho(&bytes.Buffer{}), WithClock(fixedClock()))

	if err := r.Recordf("MOVER: User %s not found", "U999"); err != nil {
		t.Fatalf("Recordf: %v", err)
	}
	if !strings.Contains(trail.String(), "MOVER: User U999 not found") {
		t.Errorf("trail = %q", trail.String())
	}
}

// ---------------------------------------------------------------------------
// FileSink
// ---------------------------------------------------------------------------

func TestFileSink_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifecycle_log.txt")

	for i := 0; i < 2; i++ {
		sink, err := NewFileSink(path)
		if err != nil {
			t.Fatalf("NewFileSink: %v", err)
		}
		if err := sink.Write(Event{Timestamp: time.Now(), Message: fmt.Sprintf("run %d", i)}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("log has %d lines after two runs, want 2", len(lines))
	}
}

// ---------------------------------------------------------------------------
// MultiSink
// ---------------------------------------------------------------------------

func TestMultiSink_DeliversToAllDespiteFailure(t *testing.T) {
	var a, b bytes.Buffer
	ms := NewMultiSink(WriterSink{W: &a}, failSink{}, WriterSink{W: &b})

	err := ms.Write(Event{Timestamp: time.Now(), Message: "hello"})
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	if a.Len() == 0 || b.Len() == 0 {
		t.Error("healthy sinks skipped after one sink failed")
	}
}
