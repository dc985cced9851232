// Package sqlstore holds the SQL repositories shared by the Postgres and SQLite backends.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// dbExecutor is an interface that works with both *sql.DB and *sql.Tx
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name string
	// Numbered is true for $1-style placeholders, false for ?.
	Numbered bool
	// TextTime stores timestamps as fixed-width UTC text instead of native values.
	TextTime bool
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite", TextTime: true}
)

// textTimeLayout sorts lexicographically in time order.
const textTimeLayout = "2006-01-02T15:04:05.000000000Z"

// Rebind rewrites ? placeholders for dialects with numbered parameters.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Time encodes t as a query argument.
func (d Dialect) Time(t time.Time) interface{} {
	if d.TextTime {
		return t.UTC().Format(textTimeLayout)
	}
	return t.UTC()
}

// dbTime scans either native timestamps or the text layout.
type dbTime struct {
	Time time.Time
}

func (t *dbTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{textTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
