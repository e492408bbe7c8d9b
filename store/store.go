// Package store is the durable SQL log of collection runs and operator-visible
// audit events. Time-series snapshots live in the timeseries package.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hicksonhaziel/xandviz/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB with the dialect its queries are rewritten for.
type DB struct {
	*sql.DB
	dialect Dialect
	driver  string
}

// Open connects to the configured database and applies the schema. The schema
// is idempotent, so reopening an existing database is safe.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return nil, errors.New("store: sqlite path is empty")
		}
		return open("sqlite", sqliteDSN(cfg.SQLite.Path), sqliteDialect{}, schemaSQLite)
	case "postgres":
		return open("postgres", postgresDSN(&cfg.Postgres), postgresDialect{}, schemaPostgres)
	default:
		return nil, fmt.Errorf("store: driver %q not supported (want sqlite or postgres)", cfg.Driver)
	}
}

func open(driver, dsn string, dialect Dialect, schema string) (*DB, error) {
	sqlName := driver
	if driver == "postgres" {
		sqlName = "pgx"
	}
	sqlDB, err := sql.Open(sqlName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", driver, err)
	}
	// SQLite allows a single writer.
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: apply %s schema: %w", driver, err)
	}
	return &DB{DB: sqlDB, dialect: dialect, driver: driver}, nil
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// postgresDSN builds a URL so credentials with spaces or quotes survive.
func postgresDSN(cfg *config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func (db *DB) Dialect() Dialect { return db.dialect }
func (db *DB) Driver() string   { return db.driver }

// Q adapts a query written with ? placeholders and the SQLite now() literal to
// the open driver.
func (db *DB) Q(query string) string {
	if db.driver != "postgres" {
		return query
	}
	return Rebind(strings.ReplaceAll(query, sqliteDialect{}.Now(), postgresDialect{}.Now()))
}
