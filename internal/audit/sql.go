package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tracklane/copilot/pkg/models"
)

// Driver selects the SQL backend for the audit store.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_audit (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL,
	caller_id      TEXT NOT NULL,
	tenant_id      TEXT NOT NULL,
	tool_name      TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	mutating       BOOLEAN NOT NULL,
	confirmed      BOOLEAN NOT NULL,
	err_kind       TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL,
	created_at     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_audit_request ON tool_audit (request_id);
`

// SQLStore persists audit entries in sqlite or postgres.
type SQLStore struct {
	db     *sql.DB
	driver Driver
}

// OpenSQLStore opens (and migrates) an audit store at the given DSN.
func OpenSQLStore(driver Driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit store dsn is required")
	}

	var db *sql.DB
	var err error
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQLStore wraps an existing database handle, for tests.
func NewSQLStore(db *sql.DB, driver Driver) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Close releases the underlying handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind converts ?-placeholders to the driver's syntax.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

// Record implements Store.
func (s *SQLStore) Record(ctx context.Context, entry *Entry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tool_audit
			(id, request_id, caller_id, tenant_id, tool_name, correlation_id,
			 mutating, confirmed, err_kind, duration_ms, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		entry.ID, entry.RequestID, entry.CallerID, entry.TenantID,
		entry.ToolName, entry.CorrelationID, entry.Mutating, entry.Confirmed,
		string(entry.ErrKind), entry.DurationMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// ListByRequest implements Store.
func (s *SQLStore) ListByRequest(ctx context.Context, requestID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, request_id, caller_id, tenant_id, tool_name, correlation_id,
		       mutating, confirmed, err_kind, duration_ms, created_at
		FROM tool_audit WHERE request_id = ? ORDER BY created_at`),
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.CallerID, &e.TenantID, &e.ToolName,
			&e.CorrelationID, &e.Mutating, &e.Confirmed, &kind,
			&e.DurationMS, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ErrKind = models.ErrKind(kind)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Prune implements Store.
func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM tool_audit WHERE created_at < ?`),
		time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return res.RowsAffected()
}
