package output

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/novelgen/internal/core"
)

// HistoryStore keeps a SQLite record of every run and its events, across
// sessions. It is a core.Sink.
type HistoryStore struct {
	conn *sqlx.DB
}

// RunRecord is one row of the runs table. Times are unix milliseconds.
type RunRecord struct {
	RunID      string `db:"run_id" json:"run_id"`
	Premise    string `db:"premise" json:"premise"`
	Phase      string `db:"phase" json:"phase"`
	StopReason string `db:"stop_reason" json:"stop_reason,omitempty"`
	Sections   int    `db:"sections" json:"sections"`
	Length     int    `db:"length" json:"length"`
	Error      string `db:"error" json:"error,omitempty"`
	StartedAt  int64  `db:"started_at" json:"started_at"`
	FinishedAt int64  `db:"finished_at" json:"finished_at"`
}

// EventRecord is one row of the events table.
type EventRecord struct {
	ID           int64  `db:"id"`
	RunID        string `db:"run_id"`
	Type         string `db:"type"`
	SectionIndex int    `db:"section_index"`
	Attempt      int    `db:"attempt"`
	Error        string `db:"error"`
	CreatedAt    int64  `db:"created_at"`
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string) (*HistoryStore, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	h := &HistoryStore{conn: conn}
	if err := h.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return h, nil
}

func (h *HistoryStore) Close() error {
	return h.conn.Close()
}

func (h *HistoryStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		premise TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL,
		stop_reason TEXT NOT NULL DEFAULT '',
		sections INTEGER NOT NULL DEFAULT 0,
		length INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		type TEXT NOT NULL,
		section_index INTEGER NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := h.conn.Exec(schema)
	return err
}

// RecordEvent stores e and opens the run row on run_started.
func (h *HistoryStore) RecordEvent(ctx context.Context, e core.Event) error {
	tx, err := h.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if e.Type == core.EventRunStarted {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, phase, started_at) VALUES (?, ?, ?)
			 ON CONFLICT(run_id) DO UPDATE SET phase = excluded.phase, error = '', finished_at = 0`,
			e.RunID, string(core.PhaseInProgress), e.Timestamp.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (run_id, type, section_index, attempt, error, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.RunID, string(e.Type), e.SectionIndex, e.Attempt, e.Error, e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Finalize writes the outcome of the run.
func (h *HistoryStore) Finalize(ctx context.Context, story *core.FinalStory) error {
	errText := ""
	if story.Err != nil {
		errText = story.Err.Error()
	}

	_, err := h.conn.ExecContext(ctx,
		`INSERT INTO runs (run_id, premise, phase, stop_reason, sections, length, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			premise = excluded.premise,
			phase = excluded.phase,
			stop_reason = excluded.stop_reason,
			sections = excluded.sections,
			length = excluded.length,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		story.RunID, story.Setting.Premise, string(story.Phase), string(story.StopReason),
		len(story.Sections), story.Length(), errText,
		story.StartedAt.UnixMilli(), story.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// Run returns the record of one run.
func (h *HistoryStore) Run(ctx context.Context, runID string) (RunRecord, error) {
	var r RunRecord
	err := h.conn.GetContext(ctx, &r, "SELECT * FROM runs WHERE run_id = ?", runID)
	return r, err
}

// RecentRuns returns up to limit runs, newest first.
func (h *HistoryStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := h.conn.SelectContext(ctx, &runs,
		"SELECT * FROM runs ORDER BY started_at DESC, run_id LIMIT ?",
		limit,
	)
	return runs, err
}

// Events returns the events of a run in the order they were recorded.
func (h *HistoryStore) Events(ctx context.Context, runID string) ([]EventRecord, error) {
	var events []EventRecord
	err := h.conn.SelectContext(ctx, &events,
		"SELECT id, run_id, type, section_index, attempt, error, created_at FROM events WHERE run_id = ? ORDER BY id",
		runID,
	)
	return events, err
}

// Started converts the stored start time.
func (r RunRecord) Started() time.Time {
	return time.UnixMilli(r.StartedAt)
}
