// Package storage persists sessions and their trial rows to per-run SQLite
// databases, one file per (subject, session, run).
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DVS-Lab/tacs-bandit/internal/sched"
	"github.com/DVS-Lab/tacs-bandit/internal/task"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// RunPath returns the canonical database path for one run:
// dataDir/sub-<subject>/sub-<subject>_ses-<session>_run-<run>_task-bandit.db.
func RunPath(dataDir, subject string, session, run int) string {
	name := fmt.Sprintf("sub-%s_ses-%d_run-%d_task-bandit.db", subject, session, run)
	return filepath.Join(dataDir, "sub-"+subject, name)
}

// NewDB opens (or creates) a SQLite database at path and runs schema
// migrations. Parent directories are created as needed.
func NewDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Enable foreign keys.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    session_num INTEGER NOT NULL,
    run INTEGER NOT NULL,
    run_type TEXT NOT NULL,
    stim_condition TEXT NOT NULL,
    duration_ns INTEGER NOT NULL,
    started_at INTEGER NOT NULL,
    manual_start INTEGER DEFAULT 0,
    trigger_device_time REAL DEFAULT 0,
    completed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trials (
    session_id TEXT NOT NULL,
    trial_index INTEGER NOT NULL,
    stim1 INTEGER NOT NULL,
    stim2 INTEGER NOT NULL,
    slot1_side TEXT NOT NULL,
    slot2_side TEXT NOT NULL,
    favored INTEGER NOT NULL,
    in_contingency INTEGER NOT NULL,
    threshold INTEGER NOT NULL,
    choice INTEGER NOT NULL,
    responded INTEGER NOT NULL,
    rt_ns INTEGER,
    correct INTEGER NOT NULL,
    rewarded INTEGER NOT NULL,
    fixation_at_ns INTEGER NOT NULL,
    response_at_ns INTEGER NOT NULL,
    response_end_at_ns INTEGER NOT NULL,
    outcome_at_ns INTEGER NOT NULL,
    end_at_ns INTEGER NOT NULL,
    PRIMARY KEY (session_id, trial_index),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_trials_session ON trials(session_id);`
	_, err := d.db.Exec(schema)
	return err
}

// boolToInt converts a bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateSession inserts the session header row. Trials are appended
// separately as they complete.
func (d *DB) CreateSession(s *task.Session) error {
	_, err := d.db.Exec(
		`INSERT INTO sessions (id, subject_id, session_num, run, run_type, stim_condition,
		     duration_ns, started_at, manual_start, trigger_device_time, completed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.Subject, s.SessionNum, s.Run, s.RunType, s.StimCondition,
		int64(s.Duration), s.StartedAt.Unix(), boolToInt(s.ManualStart), s.TriggerDeviceTime,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FinishSession marks a session completed and records the trigger bookkeeping
// that is only known once the run has started.
func (d *DB) FinishSession(s *task.Session) error {
	res, err := d.db.Exec(
		`UPDATE sessions SET completed = 1, started_at = ?, manual_start = ?, trigger_device_time = ?
		 WHERE id = ?`,
		s.StartedAt.Unix(), boolToInt(s.ManualStart), s.TriggerDeviceTime, s.ID,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish session rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish session: %w", sql.ErrNoRows)
	}
	return nil
}

// GetSession retrieves a session header by ID, without its trials.
func (d *DB) GetSession(id string) (*task.Session, error) {
	s := &task.Session{}
	var durationNS, startedAt int64
	var manual int
	err := d.db.QueryRow(
		`SELECT id, subject_id, session_num, run, run_type, stim_condition,
		     duration_ns, started_at, manual_start, trigger_device_time
		 FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &s.Subject, &s.SessionNum, &s.Run, &s.RunType, &s.StimCondition,
		&durationNS, &startedAt, &manual, &s.TriggerDeviceTime)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Duration = time.Duration(durationNS)
	s.StartedAt = time.Unix(startedAt, 0)
	s.ManualStart = manual != 0
	return s, nil
}

// ListSessions returns all session headers in the database, newest first.
func (d *DB) ListSessions() ([]task.Session, error) {
	rows, err := d.db.Query(
		`SELECT id, subject_id, session_num, run, run_type, stim_condition,
		     duration_ns, started_at, manual_start, trigger_device_time
		 FROM sessions ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []task.Session
	for rows.Next() {
		var s task.Session
		var durationNS, startedAt int64
		var manual int
		if err := rows.Scan(&s.ID, &s.Subject, &s.SessionNum, &s.Run, &s.RunType, &s.StimCondition,
			&durationNS, &startedAt, &manual, &s.TriggerDeviceTime); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Duration = time.Duration(durationNS)
		s.StartedAt = time.Unix(startedAt, 0)
		s.ManualStart = manual != 0
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Writer returns a task.RowWriter bound to one session.
func (d *DB) Writer(sessionID string) *SessionWriter {
	return &SessionWriter{db: d, sessionID: sessionID}
}

// SessionWriter appends trial rows for a single session.
type SessionWriter struct {
	db        *DB
	sessionID string
}

// AppendTrial inserts one completed trial row. rt_ns is NULL on a miss.
func (w *SessionWriter) AppendTrial(rec task.TrialRecord) error {
	var rt sql.NullInt64
	if rec.Responded {
		rt = sql.NullInt64{Int64: int64(rec.RT), Valid: true}
	}
	_, err := w.db.db.Exec(
		`INSERT INTO trials (session_id, trial_index, stim1, stim2, slot1_side, slot2_side,
		     favored, in_contingency, threshold, choice, responded, rt_ns, correct, rewarded,
		     fixation_at_ns, response_at_ns, response_end_at_ns, outcome_at_ns, end_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.sessionID, rec.Index, rec.Stim1, rec.Stim2, string(rec.Slot1Side), string(rec.Slot2Side),
		int(rec.Favored), rec.InContingency, rec.Threshold, int(rec.Choice),
		boolToInt(rec.Responded), rt, boolToInt(rec.Correct), boolToInt(rec.Rewarded),
		int64(rec.FixationAt), int64(rec.ResponseAt), int64(rec.ResponseEndAt),
		int64(rec.OutcomeAt), int64(rec.EndAt),
	)
	if err != nil {
		return fmt.Errorf("append trial %d: %w", rec.Index, err)
	}
	return nil
}

// ListTrials returns all trial rows for a session, in trial order.
func (d *DB) ListTrials(sessionID string) ([]task.TrialRecord, error) {
	rows, err := d.db.Query(
		`SELECT trial_index, stim1, stim2, slot1_side, slot2_side,
		     favored, in_contingency, threshold, choice, responded, rt_ns, correct, rewarded,
		     fixation_at_ns, response_at_ns, response_end_at_ns, outcome_at_ns, end_at_ns
		 FROM trials WHERE session_id = ? ORDER BY trial_index`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list trials: %w", err)
	}
	defer rows.Close()

	var trials []task.TrialRecord
	for rows.Next() {
		var rec task.TrialRecord
		var slot1, slot2 string
		var favored, choice, responded, correct, rewarded int
		var rt sql.NullInt64
		var fixAt, respAt, respEndAt, outAt, endAt int64
		if err := rows.Scan(&rec.Index, &rec.Stim1, &rec.Stim2, &slot1, &slot2,
			&favored, &rec.InContingency, &rec.Threshold, &choice, &responded, &rt, &correct, &rewarded,
			&fixAt, &respAt, &respEndAt, &outAt, &endAt); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		rec.Slot1Side, rec.Slot2Side = task.Side(slot1), task.Side(slot2)
		rec.Favored = sched.Option(favored)
		rec.Choice = sched.Option(choice)
		rec.Responded = responded != 0
		rec.Correct = correct != 0
		rec.Rewarded = rewarded != 0
		if rt.Valid {
			rec.RT = time.Duration(rt.Int64)
		}
		rec.FixationAt = time.Duration(fixAt)
		rec.ResponseAt = time.Duration(respAt)
		rec.ResponseEndAt = time.Duration(respEndAt)
		rec.OutcomeAt = time.Duration(outAt)
		rec.EndAt = time.Duration(endAt)
		trials = append(trials, rec)
	}
	return trials, rows.Err()
}
