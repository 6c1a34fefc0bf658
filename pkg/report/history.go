package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/desk-runner/pkg/core"
)

// Migration is one schema step of the history database.
type Migration struct {
	Version int
	UpSQL   string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	total INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	skipped INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS flow_runs (
	run_id TEXT NOT NULL,
	flow_index INTEGER NOT NULL,
	name TEXT NOT NULL,
	source_file TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT,
	duration_ms INTEGER NOT NULL,
	error TEXT,
	PRIMARY KEY(run_id, flow_index),
	FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS flow_runs_by_name ON flow_runs(name, started_at);
`,
	},
}

// ErrNoHistory is returned when a flow has never been recorded.
var ErrNoHistory = errors.New("no recorded runs")

// Outcome is one recorded run of a flow.
type Outcome struct {
	RunID     string
	Name      string
	Status    Status
	StartedAt time.Time
	Duration  time.Duration
	Error     string
}

// History stores the outcome of every run in a sqlite database.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database at path and
// brings its schema up to date.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod history: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &History{db: db}, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Record stores a finished suite. Recording the same run twice replaces it.
func (h *History) Record(ctx context.Context, suite *core.SuiteResult) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, suite.RunID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO runs(run_id, name, started_at, duration_ms, total, passed, failed, skipped)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, suite.RunID, suite.Name, ts(suite.StartTime), suite.Duration.Milliseconds(),
		suite.TotalFlows, suite.PassedFlows, suite.FailedFlows, suite.SkippedFlows)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, f := range suite.Flows {
		var started any
		if !f.StartTime.IsZero() {
			started = ts(f.StartTime)
		}
		var errText any
		if f.Error != "" {
			errText = f.Error
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO flow_runs(run_id, flow_index, name, source_file, status, started_at, duration_ms, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, suite.RunID, i, f.Name, f.FilePath, string(statusOf(f.Status)), started, f.Duration.Milliseconds(), errText)
		if err != nil {
			return fmt.Errorf("insert flow %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// LastOutcome returns the most recent recorded run of the named flow.
func (h *History) LastOutcome(ctx context.Context, flowName string) (*Outcome, error) {
	outcomes, err := h.Outcomes(ctx, flowName, 1)
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, ErrNoHistory
	}
	return &outcomes[0], nil
}

// Outcomes returns up to limit recorded runs of the named flow, newest first.
func (h *History) Outcomes(ctx context.Context, flowName string, limit int) ([]Outcome, error) {
	rows, err := h.db.QueryContext(ctx, `
SELECT f.run_id, f.name, f.status, COALESCE(f.started_at, r.started_at), f.duration_ms, COALESCE(f.error, '')
FROM flow_runs f JOIN runs r ON r.run_id = f.run_id
WHERE f.name = ?
ORDER BY r.started_at DESC, f.flow_index DESC
LIMIT ?
`, flowName, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Outcome
	for rows.Next() {
		var (
			o        Outcome
			status   string
			started  string
			duration int64
		)
		if err := rows.Scan(&o.RunID, &o.Name, &status, &started, &duration, &o.Error); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = Status(status)
		o.Duration = time.Duration(duration) * time.Millisecond
		if o.StartedAt, err = parseTS(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`, m.Version, ts(time.Now())); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// tsLayout is fixed width so stored timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}
