package recorder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

func TestJournal_WritesAndRotates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")
	j := NewJournal(dir, "flow", "run-1")
	now := time.Date(2024, 1, 1, 10, 59, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	ctx := context.Background()

	if err := j.RecordTick(ctx, testReport(1, 0)); err != nil {
		t.Fatalf("RecordTick() error = %v", err)
	}
	if err := j.RecordCommand(ctx, clock.CommandRecord{Applied: true, Tick: 1}); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := j.RecordTick(ctx, testReport(2, 60)); err != nil {
		t.Fatalf("RecordTick() error = %v", err)
	}
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	first, err := ReadJournal(j.Path("2024-01-01-10"))
	if err != nil {
		t.Fatalf("ReadJournal(10h) error = %v", err)
	}
	if len(first) != 2 || first[0].Type != "tick" || first[1].Type != "command" {
		t.Fatalf("10h entries = %+v", first)
	}
	if first[0].Run != "run-1" || first[0].Tick == nil || len(first[0].Tick.States) != 2 {
		t.Errorf("tick entry = %+v", first[0])
	}

	second, err := ReadJournal(j.Path("2024-01-01-11"))
	if err != nil {
		t.Fatalf("ReadJournal(11h) error = %v", err)
	}
	if len(second) != 1 || second[0].Tick.Tick != 2 {
		t.Errorf("11h entries = %+v", second)
	}

	files, _ := os.ReadDir(dir)
	if len(files) != 2 {
		t.Errorf("journal files = %d, want 2", len(files))
	}
}

func TestJournal_ReopensAfterFlush(t *testing.T) {
	j := NewJournal(t.TempDir(), "flow", "run-1")
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	ctx := context.Background()

	for i := uint64(1); i <= 2; i++ {
		if err := j.RecordTick(ctx, testReport(i, 0)); err != nil {
			t.Fatalf("RecordTick() error = %v", err)
		}
		if err := j.Flush(ctx); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
	}

	entries, err := ReadJournal(j.Path("2024-01-01-10"))
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want both appended frames", len(entries))
	}
}
