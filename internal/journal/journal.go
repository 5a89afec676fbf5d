// Package journal persists run history to a local SQLite database so a
// finished run can be inspected after the engine exits. Journalling is
// optional; the runner works without a store attached.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/signalsfoundry/sagin-domain-engine/model"

	_ "modernc.org/sqlite"
)

// Run is one journalled engine run.
type Run struct {
	ID         string
	Feed       string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    model.RunSummary
}

// Store wraps the SQLite handle behind typed append and read-back
// operations. All writes are idempotent per (run, slot) so redelivery
// after a crash does not duplicate rows.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	feed TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	slots INTEGER NOT NULL DEFAULT 0,
	total_remappings INTEGER NOT NULL DEFAULT 0,
	mean_domains REAL NOT NULL DEFAULT 0,
	peak_domains INTEGER NOT NULL DEFAULT 0,
	inconsistent_slots INTEGER NOT NULL DEFAULT 0,
	total_flow_rules INTEGER NOT NULL DEFAULT 0
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize runs schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS slot_metrics (
	run_id TEXT NOT NULL,
	slot INTEGER NOT NULL,
	recorded_at TEXT NOT NULL,
	num_nodes INTEGER NOT NULL,
	num_domains INTEGER NOT NULL,
	remappings INTEGER NOT NULL,
	directives INTEGER NOT NULL,
	flow_rules INTEGER NOT NULL,
	inconsistent INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, slot)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize slot metrics schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS remap_events (
	run_id TEXT NOT NULL,
	slot INTEGER NOT NULL,
	node_id INTEGER NOT NULL,
	prev_controller INTEGER NOT NULL,
	new_controller INTEGER NOT NULL,
	PRIMARY KEY (run_id, slot, node_id)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize remap events schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun registers a run before its first slot is appended.
func (s *Store) BeginRun(runID, feed string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, feed, started_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		 feed = excluded.feed,
		 started_at = excluded.started_at`,
		runID,
		feed,
		startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("begin run %q: %w", runID, err)
	}
	return nil
}

// AppendSlot upserts one slot's metrics record.
func (s *Store) AppendSlot(runID string, m model.SlotMetrics) error {
	inconsistent := 0
	if m.Inconsistent {
		inconsistent = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO slot_metrics (run_id, slot, recorded_at, num_nodes, num_domains, remappings, directives, flow_rules, inconsistent, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, slot) DO UPDATE SET
		 recorded_at = excluded.recorded_at,
		 num_nodes = excluded.num_nodes,
		 num_domains = excluded.num_domains,
		 remappings = excluded.remappings,
		 directives = excluded.directives,
		 flow_rules = excluded.flow_rules,
		 inconsistent = excluded.inconsistent,
		 detail = excluded.detail`,
		runID,
		m.Slot,
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.Nodes,
		m.Domains,
		m.Remaps,
		m.Directives,
		m.FlowRules,
		inconsistent,
		m.Detail,
	)
	if err != nil {
		return fmt.Errorf("append slot %d of run %q: %w", m.Slot, runID, err)
	}
	return nil
}

// AppendRemaps records a slot's remap events in one transaction.
func (s *Store) AppendRemaps(runID string, events []model.RemapEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append remap events of run %q: %w", runID, err)
	}
	for _, ev := range events {
		if _, err := tx.Exec(
			`INSERT INTO remap_events (run_id, slot, node_id, prev_controller, new_controller)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(run_id, slot, node_id) DO UPDATE SET
			 prev_controller = excluded.prev_controller,
			 new_controller = excluded.new_controller`,
			runID,
			ev.Slot,
			ev.NodeID,
			ev.PrevController,
			ev.NewController,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append remap event for node %d of run %q: %w", ev.NodeID, runID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append remap events of run %q: %w", runID, err)
	}
	return nil
}

// FinishRun stamps the run's end time and aggregate summary.
func (s *Store) FinishRun(runID string, finishedAt time.Time, summary model.RunSummary) error {
	res, err := s.db.Exec(
		`UPDATE runs SET
		 finished_at = ?,
		 slots = ?,
		 total_remappings = ?,
		 mean_domains = ?,
		 peak_domains = ?,
		 inconsistent_slots = ?,
		 total_flow_rules = ?
		 WHERE run_id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano),
		summary.Slots,
		summary.TotalRemaps,
		summary.MeanDomains,
		summary.PeakDomains,
		summary.InconsistentSlots,
		summary.TotalFlowRules,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %q: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %q: run not found", runID)
	}
	return nil
}

// Run fetches one journalled run. The second result is false when the
// run id is unknown.
func (s *Store) Run(runID string) (Run, bool, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT run_id, feed, started_at, finished_at, slots, total_remappings, mean_domains, peak_domains, inconsistent_slots, total_flow_rules
		 FROM runs WHERE run_id = ?`,
		runID,
	).Scan(
		&run.ID,
		&run.Feed,
		&startedAt,
		&finishedAt,
		&run.Summary.Slots,
		&run.Summary.TotalRemaps,
		&run.Summary.MeanDomains,
		&run.Summary.PeakDomains,
		&run.Summary.InconsistentSlots,
		&run.Summary.TotalFlowRules,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, fmt.Errorf("query run %q: %w", runID, err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, false, fmt.Errorf("parse start time of run %q: %w", runID, err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String); err != nil {
			return Run{}, false, fmt.Errorf("parse finish time of run %q: %w", runID, err)
		}
	}
	return run, true, nil
}

// SlotMetrics returns the run's slot records ordered by slot.
func (s *Store) SlotMetrics(runID string) ([]model.SlotMetrics, error) {
	rows, err := s.db.Query(
		`SELECT slot, recorded_at, num_nodes, num_domains, remappings, directives, flow_rules, inconsistent, detail
		 FROM slot_metrics WHERE run_id = ? ORDER BY slot`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slot metrics of run %q: %w", runID, err)
	}
	defer rows.Close()

	out := make([]model.SlotMetrics, 0)
	for rows.Next() {
		var (
			m            model.SlotMetrics
			recordedAt   string
			inconsistent int
		)
		if err := rows.Scan(&m.Slot, &recordedAt, &m.Nodes, &m.Domains, &m.Remaps, &m.Directives, &m.FlowRules, &inconsistent, &m.Detail); err != nil {
			return nil, fmt.Errorf("scan slot metrics row: %w", err)
		}
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse slot %d timestamp: %w", m.Slot, err)
		}
		m.Inconsistent = inconsistent != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot metrics rows: %w", err)
	}
	return out, nil
}

// RemapEvents returns the run's remap events ordered by slot, then node.
func (s *Store) RemapEvents(runID string) ([]model.RemapEvent, error) {
	rows, err := s.db.Query(
		`SELECT slot, node_id, prev_controller, new_controller
		 FROM remap_events WHERE run_id = ? ORDER BY slot, node_id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list remap events of run %q: %w", runID, err)
	}
	defer rows.Close()

	out := make([]model.RemapEvent, 0)
	for rows.Next() {
		var ev model.RemapEvent
		if err := rows.Scan(&ev.Slot, &ev.NodeID, &ev.PrevController, &ev.NewController); err != nil {
			return nil, fmt.Errorf("scan remap event row: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate remap event rows: %w", err)
	}
	return out, nil
}
