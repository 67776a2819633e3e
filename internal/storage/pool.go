// Package storage provides the session archive for Council.
//
// It runs on database/sql with two drivers: modernc.org/sqlite for the
// default single-node deployment and pgx (through its stdlib adapter) when
// the DSN is a PostgreSQL URL. Queries are written once with ? placeholders
// and rebound for PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// sqliteBusyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const sqliteBusyTimeout = 5 * time.Second

// DB wraps a database/sql pool and the dialect it speaks.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the archive named by dsn.
//
// postgres:// and postgresql:// URLs use pgx. Anything else is a SQLite
// path, optionally prefixed with sqlite:// or file:. The parent directory
// of a SQLite file is created if needed.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	dialect, driverDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	driver := "pgx"
	if dialect == DialectSQLite {
		driver = "sqlite"
		if path := sqlitePath(driverDSN); path != "" && path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
				return nil, fmt.Errorf("storage: create data dir: %w", err)
			}
		}
	}

	conn, err := sql.Open(driver, driverDSN)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// One writer at a time; WAL lets readers proceed alongside it.
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=" + strconv.FormatInt(sqliteBusyTimeout.Milliseconds(), 10),
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("storage: %s: %w", pragma, err)
			}
		}
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", dialect, err)
	}

	logger.Info("storage: connected", "dialect", string(dialect))
	return &DB{conn: conn, dialect: dialect, logger: logger}, nil
}

func parseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("storage: empty DSN")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DialectPostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return DialectSQLite, strings.TrimPrefix(dsn, "sqlite://"), nil
	default:
		return DialectSQLite, dsn, nil
	}
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// Dialect reports which backend this DB talks to.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close releases the connection pool.
func (db *DB) Close() {
	if err := db.conn.Close(); err != nil {
		db.logger.Warn("storage: close", "error", err)
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain a literal question mark.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
