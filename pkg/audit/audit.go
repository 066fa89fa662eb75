// Package audit is the gateway's optional, additive SQL mirror of control-
// plane state changes: pairing decisions, allowlist mutations, approval
// resolutions, and exec dispatches. It never replaces the mandatory JSONL/
// JSON persisted-state layout (pkg/session, pkg/pairing, pkg/exec own that);
// it exists purely so operators can query/filter audit history without
// replaying transcript files. Adapted from the teacher's pkg/db.go driver
// selection (sqlite default, optional postgres/mysql) and its
// AuditEntry/RecordAudit shape, denormalized here to the gateway's own
// entities instead of Kubernetes resources.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL backend, mirroring the teacher's DBType constants.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Category mirrors the teacher's ActionType, narrowed to the gateway's
// control-plane event categories.
type Category string

const (
	CategoryPairing  Category = "pairing"
	CategoryAllow    Category = "allowlist"
	CategoryApproval Category = "approval"
	CategoryExec     Category = "exec"
	CategoryAuth     Category = "auth"
	CategoryConfig   Category = "config"
)

// Record is one denormalized audit row.
type Record struct {
	ID         int64     `json:"id"`
	Time       time.Time `json:"time"`
	Category   Category  `json:"category"`
	Action     string    `json:"action"`   // "approved", "denied", "allow-and-add", "exec.finished", ...
	SessionKey string    `json:"session_key,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Actor      string    `json:"actor,omitempty"` // resolving operator, sender key, or device id
	Detail     string    `json:"detail,omitempty"`
}

// Sink writes Records to the configured SQL backend. All methods are safe
// for concurrent use; the underlying *sql.DB pools its own connections, so
// Sink needs no additional locking beyond guarding driver selection.
type Sink struct {
	mu     sync.RWMutex
	db     *sql.DB
	driver Driver
}

// Config selects and connects the sink's backend.
type Config struct {
	Driver   Driver
	DSN      string // required for postgres/mysql; for sqlite, an optional file path overriding the StateDir default
	StateDir string // sqlite default path: <StateDir>/audit.db
}

// Open connects (and migrates) the sink per cfg. An empty cfg.Driver
// defaults to sqlite, matching the config package's NewDefaultConfig.
func Open(cfg Config) (*Sink, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		path := cfg.DSN
		if path == "" {
			path = filepath.Join(cfg.StateDir, "audit.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("audit: creating state dir: %w", err)
		}
		db, err = sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("audit: postgres driver requires a DSN")
		}
		db, err = sql.Open("postgres", cfg.DSN)
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("audit: mysql driver requires a DSN")
		}
		db, err = sql.Open("mysql", cfg.DSN)
	default:
		return nil, fmt.Errorf("audit: unknown driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("audit: opening %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: pinging %s: %w", driver, err)
	}

	s := &Sink{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) migrate() error {
	stmt := createTableSQL(s.driver)
	_, err := s.db.Exec(stmt)
	if err != nil {
		return fmt.Errorf("audit: migrating schema: %w", err)
	}
	return nil
}

func createTableSQL(driver Driver) string {
	switch driver {
	case DriverPostgres:
		return `CREATE TABLE IF NOT EXISTS audit_records (
			id SERIAL PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			session_key TEXT,
			channel TEXT,
			actor TEXT,
			detail TEXT
		)`
	case DriverMySQL:
		return "CREATE TABLE IF NOT EXISTS audit_records (" +
			"id BIGINT AUTO_INCREMENT PRIMARY KEY, " +
			"ts DATETIME NOT NULL, " +
			"category VARCHAR(32) NOT NULL, " +
			"action VARCHAR(64) NOT NULL, " +
			"session_key VARCHAR(512), " +
			"channel VARCHAR(128), " +
			"actor VARCHAR(256), " +
			"detail TEXT)"
	default: // sqlite
		return `CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			category TEXT NOT NULL,
			action TEXT NOT NULL,
			session_key TEXT,
			channel TEXT,
			actor TEXT,
			detail TEXT
		)`
	}
}

// Record inserts one audit row. Failures are logged by the caller, not
// surfaced to the triggering control-plane operation — a broken audit sink
// must never block pairing, approval, or exec flows.
func (s *Sink) Record(ctx context.Context, r Record) error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_records (ts, category, action, session_key, channel, actor, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Time, r.Category, r.Action, r.SessionKey, r.Channel, r.Actor, r.Detail)
	if err != nil {
		return fmt.Errorf("audit: inserting record: %w", err)
	}
	return nil
}

// Filter narrows a Query to a category, session key, or time range; zero
// values are unconstrained.
type Filter struct {
	Category   Category
	SessionKey string
	Since      time.Time
	Limit      int
}

// Query returns audit rows matching filter, most recent first.
func (s *Sink) Query(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}

	query := `SELECT id, ts, category, action, session_key, channel, actor, detail FROM audit_records WHERE 1=1`
	var args []any
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.SessionKey != "" {
		query += ` AND session_key = ?`
		args = append(args, f.SessionKey)
	}
	if !f.Since.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: querying: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var sessionKey, channel, actor, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Time, &r.Category, &r.Action, &sessionKey, &channel, &actor, &detail); err != nil {
			return nil, fmt.Errorf("audit: scanning row: %w", err)
		}
		r.SessionKey, r.Channel, r.Actor, r.Detail = sessionKey.String, channel.String, actor.String, detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying database connection pool.
func (s *Sink) Close() error {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	return db.Close()
}
