package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-sim/internal/clock"
	"github.com/nerrad567/gray-logic-sim/internal/composer"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/database"
)

// Command log status values.
const (
	StatusApplied = "applied"
	StatusDropped = "dropped"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("recorder: run not found")

// Store writes one run into the run database: the run row, entity state
// per tick and the command log.
type Store struct {
	db    *database.DB
	runID string
	ticks int
	last  int64
}

// NewStore returns a store over db. BeginRun must be called before records
// arrive.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// BeginRun inserts the run row. With clearDB set, earlier runs sharing the
// data prefix are deleted first, together with their snapshots and command
// log.
func (s *Store) BeginRun(ctx context.Context, run composer.Run) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("encoding parameters: %w", err)
	}
	p := run.Parameters

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if p.ClearDB {
			if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE prefix = ?", p.DataPrefix); err != nil {
				return fmt.Errorf("clearing runs: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, prefix, start_time, time_base, intervals, parameters, started_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, p.DataPrefix, run.Timing.Start, p.TimeBase, p.Intervals, string(params),
			run.Started.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}
		s.runID = run.ID
		return nil
	})
}

// RecordTick implements clock.Sink.
func (s *Store) RecordTick(ctx context.Context, r *clock.Report) error {
	s.ticks++
	s.last = r.Next
	if len(r.States) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO state_snapshots (run_id, tick, sim_time, entity, kind, state)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck // statement cleanup

		for _, st := range r.States {
			state, err := json.Marshal(st.State)
			if err != nil {
				return fmt.Errorf("encoding %s state: %w", st.Name, err)
			}
			//nolint:gosec // tick counts fit in int64
			if _, err := stmt.ExecContext(ctx, s.runID, int64(r.Tick), r.Time, st.Name, string(st.Kind), string(state)); err != nil {
				return fmt.Errorf("inserting %s state: %w", st.Name, err)
			}
		}
		return nil
	})
}

// RecordCommand implements clock.Sink.
func (s *Store) RecordCommand(ctx context.Context, rec clock.CommandRecord) error {
	status := StatusApplied
	if !rec.Applied {
		status = StatusDropped
	}
	var payload, errText sql.NullString
	if len(rec.Command.Payload) > 0 {
		payload = sql.NullString{String: string(rec.Command.Payload), Valid: true}
	}
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log (run_id, command_id, tick, sim_time, kind, target, name, payload, status, error, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, rec.Command.ID, int64(rec.Tick), rec.Time, string(rec.Command.Kind), //nolint:gosec // tick counts fit in int64
		rec.Command.Target, rec.Command.Name, payload, status, errText,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("logging command %s: %w", rec.Command.ID, err)
	}
	return nil
}

// Flush closes the run row with the tick count and final time.
func (s *Store) Flush(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET finished_at = ?, final_time = ?, ticks = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), s.last, s.ticks, s.runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", s.runID, err)
	}
	return nil
}

// RunSummary is a row of the runs table.
type RunSummary struct {
	ID         string          `json:"id"`
	Prefix     string          `json:"prefix"`
	StartTime  int64           `json:"start_time"`
	TimeBase   int64           `json:"time_base"`
	Intervals  int             `json:"intervals"`
	Parameters json.RawMessage `json:"parameters"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at,omitempty"`
	FinalTime  int64           `json:"final_time,omitempty"`
	Ticks      int             `json:"ticks"`
}

// ListRuns returns recorded runs, newest first.
func ListRuns(ctx context.Context, db *database.DB) ([]RunSummary, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, prefix, start_time, time_base, intervals, parameters, started_at,
		        COALESCE(finished_at, ''), COALESCE(final_time, 0), ticks
		 FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows cleanup

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var params string
		if err := rows.Scan(&r.ID, &r.Prefix, &r.StartTime, &r.TimeBase, &r.Intervals, &params,
			&r.StartedAt, &r.FinishedAt, &r.FinalTime, &r.Ticks); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Parameters = json.RawMessage(params)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommandEntry is a row of the command log.
type CommandEntry struct {
	CommandID string          `json:"command_id"`
	Tick      uint64          `json:"tick"`
	Time      int64           `json:"time"`
	Kind      string          `json:"cmd"`
	Target    string          `json:"entity,omitempty"`
	Name      string          `json:"name,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// CommandLog returns the commands drained during a run, in drain order.
func CommandLog(ctx context.Context, db *database.DB, runID string) ([]CommandEntry, error) {
	if err := runExists(ctx, db, runID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT command_id, tick, sim_time, kind, target, name, payload, status, COALESCE(error, '')
		 FROM command_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("reading command log: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows cleanup

	var out []CommandEntry
	for rows.Next() {
		var e CommandEntry
		var payload sql.NullString
		if err := rows.Scan(&e.CommandID, &e.Tick, &e.Time, &e.Kind, &e.Target, &e.Name,
			&payload, &e.Status, &e.Error); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatePoint is one recorded entity state.
type StatePoint struct {
	Tick  uint64          `json:"tick"`
	Time  int64           `json:"time"`
	State json.RawMessage `json:"state"`
}

// StateHistory returns the recorded states of one entity, oldest first,
// at most limit of them (all when limit <= 0).
func StateHistory(ctx context.Context, db *database.DB, runID, entity string, limit int) ([]StatePoint, error) {
	if err := runExists(ctx, db, runID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT tick, sim_time, state FROM state_snapshots
		 WHERE run_id = ? AND entity = ? ORDER BY tick LIMIT ?`, runID, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("reading state history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows cleanup

	var out []StatePoint
	for rows.Next() {
		var p StatePoint
		var state string
		if err := rows.Scan(&p.Tick, &p.Time, &state); err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		p.State = json.RawMessage(state)
		out = append(out, p)
	}
	return out, rows.Err()
}

func runExists(ctx context.Context, db *database.DB, runID string) error {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM runs WHERE id = ?", runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return err
}
