// Package history keeps a SQLite index of test-run status transitions so run
// outcomes survive process restarts. The in-memory test manager remains the
// source of truth for live runs; this index only answers "what happened
// before" queries from the CLI and the debug surface.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    scenario TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    attempt INTEGER NOT NULL DEFAULT 1,
    reason TEXT NOT NULL DEFAULT '',
    at_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_transitions_run ON run_transitions(run_id);
CREATE INDEX IF NOT EXISTS idx_run_transitions_at ON run_transitions(at_ms);
`

// writeRetryMaxElapsed bounds how long a write waits out a busy database.
const writeRetryMaxElapsed = 2 * time.Second

// Transition is one recorded run status change.
type Transition struct {
	RunID    string          `json:"runId"`
	Scenario string          `json:"scenario,omitempty"`
	Status   types.RunStatus `json:"status"`
	Attempt  int             `json:"attempt"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}

// Store is the SQLite-backed transition index. Safe for concurrent callers;
// SQLite serializes writers via the single-connection pool.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	log    *slog.Logger
}

// Open opens (or creates) the history database at dbPath.
func Open(dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Record appends one transition. Transient lock contention is retried
// briefly; persistent failure comes back as an error for the caller to log.
func (s *Store) Record(ctx context.Context, tr Transition) error {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO run_transitions (run_id, scenario, status, attempt, reason, at_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tr.RunID, tr.Scenario, string(tr.Status), tr.Attempt, tr.Reason, at.UnixMilli())
		return err
	})
}

// List returns transitions at or after since, newest first, up to limit
// (limit <= 0 means no cap).
func (s *Store) List(ctx context.Context, since time.Time, limit int) ([]Transition, error) {
	query := `SELECT run_id, scenario, status, attempt, reason, at_ms
	          FROM run_transitions WHERE at_ms >= ? ORDER BY at_ms DESC, id DESC`
	args := []any{since.UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// RunTransitions returns one run's transitions in recorded order.
func (s *Store) RunTransitions(ctx context.Context, runID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scenario, status, attempt, reason, at_ms
		 FROM run_transitions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run transitions: %w", err)
	}
	defer rows.Close()
	return scanTransitions(rows)
}

// Count returns the total number of recorded transitions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_transitions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}

func scanTransitions(rows *sql.Rows) ([]Transition, error) {
	var out []Transition
	for rows.Next() {
		var tr Transition
		var status string
		var atMs int64
		if err := rows.Scan(&tr.RunID, &tr.Scenario, &status, &tr.Attempt, &tr.Reason, &atMs); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.Status = types.RunStatus(status)
		tr.At = time.UnixMilli(atMs)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// withRetry retries op on transient SQLite lock errors with exponential
// backoff; other errors stop immediately.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = writeRetryMaxElapsed
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// isRetryableError reports whether the error is transient lock contention.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "table is locked") {
		return true
	}
	if strings.Contains(errStr, "busy") {
		return true
	}
	return false
}
