package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type colType int

const (
	colText colType = iota
	colTimestamp
	colReal
	colInteger
	colJSON
)

// Dialect isolates the SQL differences between the supported databases.
type Dialect interface {
	Name() string
	DriverName() string
	Placeholder(n int) string
	IDColumn() string
	Type(t colType) string
	// ListColumns returns the column names of table; none means it does not exist.
	ListColumns(ctx context.Context, q queryer, table string) ([]string, error)
	// PrepareDSN adjusts a user supplied DSN for the driver.
	PrepareDSN(dsn string) string
	// MidnightUTC renders a SQL expression turning the calendar date in expr
	// into the timestamp of that day's UTC midnight, as stored in observed_at.
	MidnightUTC(expr string) string
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// DialectFor returns the dialect registered for a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql", "pq":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) IDColumn() string {
	return "id BIGSERIAL PRIMARY KEY"
}

func (postgresDialect) Type(t colType) string {
	switch t {
	case colTimestamp:
		return "TIMESTAMPTZ"
	case colReal:
		return "REAL"
	case colInteger:
		return "INTEGER"
	case colJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (postgresDialect) ListColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	return scanNames(q.QueryContext(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table))
}

func (postgresDialect) PrepareDSN(dsn string) string {
	return dsn
}

func (postgresDialect) MidnightUTC(expr string) string {
	return fmt.Sprintf("(%s::timestamp AT TIME ZONE 'UTC')", expr)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string {
	return "?"
}

func (sqliteDialect) IDColumn() string {
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (sqliteDialect) Type(t colType) string {
	switch t {
	case colTimestamp:
		return "TIMESTAMP"
	case colReal:
		return "REAL"
	case colInteger:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) ListColumns(ctx context.Context, q queryer, table string) ([]string, error) {
	return scanNames(q.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table))
}

// PrepareDSN turns a bare path into a URI that writes sortable timestamps and
// waits on a locked database instead of failing at once.
func (sqliteDialect) PrepareDSN(dsn string) string {
	if strings.Contains(dsn, "_time_format") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_time_format=sqlite&_pragma=busy_timeout(5000)"
}

// MidnightUTC matches the text the driver writes for a UTC time.Time, so
// backfilled rows compare equal to rows written later for the same day.
func (sqliteDialect) MidnightUTC(expr string) string {
	return fmt.Sprintf("(strftime('%%Y-%%m-%%d %%H:%%M:%%S', %s) || '+00:00')", expr)
}

func scanNames(rows *sql.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
