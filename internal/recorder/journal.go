package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
)

const (
	journalDirPerm  = 0o750
	journalFilePerm = 0o640
	journalBufSize  = 128 * 1024
	journalRotation = "2006-01-02-15"
)

// JournalEntry is one line of the flow journal.
type JournalEntry struct {
	Type    string               `json:"type"` // "tick" or "command"
	Run     string               `json:"run"`
	Tick    *clock.Report        `json:"tick,omitempty"`
	Command *clock.CommandRecord `json:"command,omitempty"`
}

// Journal writes ticks and commands as zstd-compressed JSON lines, one
// file per run and wall-clock hour:
//
//	{dir}/{prefix}-{run}-{YYYY-MM-DD-HH}.jsonl.zst
type Journal struct {
	dir    string
	prefix string
	runID  string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewJournal returns a journal for one run. Files are created on the first
// write.
func NewJournal(dir, prefix, runID string) *Journal {
	return &Journal{dir: dir, prefix: prefix, runID: runID, now: time.Now}
}

// RecordTick implements clock.Sink.
func (j *Journal) RecordTick(_ context.Context, r *clock.Report) error {
	return j.write(JournalEntry{Type: "tick", Run: j.runID, Tick: r})
}

// RecordCommand implements clock.Sink.
func (j *Journal) RecordCommand(_ context.Context, rec clock.CommandRecord) error {
	return j.write(JournalEntry{Type: "command", Run: j.runID, Command: &rec})
}

// Flush finishes the current file. A later write opens it again.
func (j *Journal) Flush(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) write(e JournalEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	hour := j.now().UTC().Format(journalRotation)
	if hour != j.curHour || j.w == nil {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := j.w.Write(line); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// Path returns the file for hour.
func (j *Journal) Path(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s-%s.jsonl.zst", j.prefix, j.runID, hour))
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, journalDirPerm); err != nil {
		return fmt.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(j.Path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, journalFilePerm)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close() //nolint:errcheck // best effort cleanup on error path
		return fmt.Errorf("opening journal encoder: %w", err)
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, journalBufSize)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var firstErr error
	if j.w != nil {
		firstErr = j.w.Flush()
	}
	if j.enc != nil {
		if err := j.enc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if j.f != nil {
		if err := j.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.f, j.enc, j.w = nil, nil, nil
	return firstErr
}

// ReadJournal decodes every entry of one journal file.
func ReadJournal(path string) ([]JournalEntry, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only file

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening journal decoder: %w", err)
	}
	defer dec.Close()

	var out []JournalEntry
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, journalBufSize), 16*1024*1024)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding journal line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, scanner.Err()
}
