package store

import (
	"fmt"
	"strings"
	"time"
)

type Dialect interface {
	Placeholder(n int) string
	Now() string
	// Time encodes a timestamp for a bind parameter.
	Time(t time.Time) any
}

// sqliteTimeLayout is fixed width so TEXT timestamps sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteDialect struct{}

func (d sqliteDialect) Placeholder(_ int) string { return "?" }
func (d sqliteDialect) Now() string              { return "datetime('now')" }
func (d sqliteDialect) Time(t time.Time) any     { return t.UTC().Format(sqliteTimeLayout) }

type postgresDialect struct{}

func (d postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (d postgresDialect) Now() string              { return "NOW()" }
func (d postgresDialect) Time(t time.Time) any     { return t.UTC() }

// parseTime converts a scanned timestamp value to time.Time.
// Handles both SQLite (returns string) and Postgres (returns time.Time).
func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if t == "" {
			return time.Time{}
		}
		for _, layout := range []string{
			time.RFC3339Nano,
			"2006-01-02 15:04:05",
			"2006-01-02 15:04:05-07:00",
		} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// parseTimePtr is like parseTime but returns nil for zero/missing timestamps.
func parseTimePtr(v any) *time.Time {
	t := parseTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL.
func Rebind(query string) string {
	n := 0
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(postgresDialect{}.Placeholder(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
