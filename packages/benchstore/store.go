// Package benchstore persists bench run summaries in SQLite so runs against
// the same target can be compared over time.
package benchstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/postkit/packages/bench"
)

const (
	defaultQueryTimeout = 30 * time.Second
	pingTimeout         = 5 * time.Second
)

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("benchstore: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	method       TEXT NOT NULL,
	backend      TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_us  INTEGER NOT NULL,
	total        INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	errors       INTEGER NOT NULL,
	spilled      INTEGER NOT NULL,
	bytes        INTEGER NOT NULL,
	rps          REAL NOT NULL,
	p50_us       INTEGER NOT NULL,
	p95_us       INTEGER NOT NULL,
	p99_us       INTEGER NOT NULL,
	max_us       INTEGER NOT NULL,
	mean_us      INTEGER NOT NULL,
	ttfb_p95_us  INTEGER NOT NULL,
	passed       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_target_started ON runs (target, started_at);
CREATE TABLE IF NOT EXISTS outcomes (
	run_id  TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	outcome TEXT NOT NULL,
	count   INTEGER NOT NULL,
	PRIMARY KEY (run_id, outcome)
);
`

// Run is one stored bench run.
type Run struct {
	ID        string
	Target    string
	Method    string
	Backend   string
	StartedAt time.Time
	Duration  time.Duration
	Total     int64
	Success   int64
	Errors    int64
	Spilled   int64
	Bytes     int64
	RPS       float64
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	Max       time.Duration
	Mean      time.Duration
	TTFBP95   time.Duration
	Passed    bool
	Outcomes  map[string]int64
}

// ErrorRate returns the failed share of the run.
func (r *Run) ErrorRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Errors) / float64(r.Total)
}

// NewRun flattens a bench result into a Run ready to Save.
func NewRun(method, target, backend string, startedAt time.Time, result *bench.Result) *Run {
	s := result.Summary
	outcomes := make(map[string]int64, len(s.Outcomes))
	for k, v := range s.Outcomes {
		outcomes[k] = v
	}
	return &Run{
		Target:    target,
		Method:    method,
		Backend:   backend,
		StartedAt: startedAt,
		Duration:  s.Duration,
		Total:     s.TotalRequests,
		Success:   s.SuccessCount,
		Errors:    s.ErrorCount,
		Spilled:   s.SpilledCount,
		Bytes:     s.BytesReceived,
		RPS:       s.RPS,
		P50:       s.Latency.P50,
		P95:       s.Latency.P95,
		P99:       s.Latency.P99,
		Max:       s.Latency.Max,
		Mean:      s.Latency.Mean,
		TTFBP95:   s.Phases["ttfb"].P95,
		Passed:    result.Passed,
		Outcomes:  outcomes,
	}
}

// Store is a SQLite-backed run store
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// Open opens (creating if needed) the store at connStr and applies the schema.
// connStr is "sqlite://path", "sqlite:path" or a bare file path.
func Open(connStr string) (*Store, error) {
	dsn, err := parseConnectionString(connStr)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, queryTimeout: defaultQueryTimeout}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save inserts run and its outcome counts. An empty ID is filled in with a
// new UUID; the stored ID is returned.
func (s *Store) Save(ctx context.Context, run *Run) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, target, method, backend, started_at, duration_us,
		total, success, errors, spilled, bytes, rps,
		p50_us, p95_us, p99_us, max_us, mean_us, ttfb_p95_us, passed
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.Method, run.Backend, run.StartedAt.UnixNano(), run.Duration.Microseconds(),
		run.Total, run.Success, run.Errors, run.Spilled, run.Bytes, run.RPS,
		run.P50.Microseconds(), run.P95.Microseconds(), run.P99.Microseconds(),
		run.Max.Microseconds(), run.Mean.Microseconds(), run.TTFBP95.Microseconds(), run.Passed,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for outcome, count := range run.Outcomes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (run_id, outcome, count) VALUES (?, ?, ?)`,
			run.ID, outcome, count); err != nil {
			return "", fmt.Errorf("insert outcome %q: %w", outcome, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return run.ID, nil
}

const runColumns = `id, target, method, backend, started_at, duration_us,
	total, success, errors, spilled, bytes, rps,
	p50_us, p95_us, p99_us, max_us, mean_us, ttfb_p95_us, passed`

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	runs, err := s.query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

// Recent returns up to limit runs against target, newest first.
func (s *Store) Recent(ctx context.Context, target string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE target = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		target, limit)
}

// Previous returns the newest run against the same target that started
// before run, or ErrNotFound.
func (s *Store) Previous(ctx context.Context, run *Run) (*Run, error) {
	runs, err := s.query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE target = ? AND id != ? AND started_at <= ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		run.Target, run.ID, run.StartedAt.UnixNano())
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Run, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r                                    Run
			started, dur                         int64
			p50, p95, p99, maxUs, mean, ttfbP95 int64
		)
		if err := rows.Scan(&r.ID, &r.Target, &r.Method, &r.Backend, &started, &dur,
			&r.Total, &r.Success, &r.Errors, &r.Spilled, &r.Bytes, &r.RPS,
			&p50, &p95, &p99, &maxUs, &mean, &ttfbP95, &r.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		r.Duration = micros(dur)
		r.P50, r.P95, r.P99 = micros(p50), micros(p95), micros(p99)
		r.Max, r.Mean, r.TTFBP95 = micros(maxUs), micros(mean), micros(ttfbP95)
		runs = append(runs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	for _, r := range runs {
		if r.Outcomes, err = s.outcomes(ctx, r.ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) outcomes(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, count FROM outcomes WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// parseConnectionString parses a connection string into a sqlite3 DSN.
// Supported formats:
// - sqlite://path/to/db.sqlite
// - sqlite:./bench.db
// - ./bench.db
func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)

	var dsn string
	switch {
	case strings.HasPrefix(connStr, "sqlite://"):
		dsn = strings.TrimPrefix(connStr, "sqlite://")
	case strings.HasPrefix(connStr, "sqlite:"):
		dsn = strings.TrimPrefix(connStr, "sqlite:")
	case strings.Contains(connStr, "://"):
		scheme, _, _ := strings.Cut(connStr, "://")
		return "", fmt.Errorf("unsupported database scheme: %s", scheme)
	default:
		dsn = connStr
	}

	if dsn == "" {
		return "", fmt.Errorf("empty database path")
	}
	return dsn, nil
}
