package repo

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences the student repository cares about:
// bind-parameter syntax and the insert-or-replace clause.
type Dialect struct {
	Name string
	bind func(n int) string
	// upsert renders the conflict clause that turns an INSERT on the
	// primary key into a full replace of cols.
	upsert func(cols []string) string
}

var (
	// Postgres covers both lib/pq ("postgres") and pgx.
	Postgres = Dialect{Name: "postgres", bind: dollarBind, upsert: onConflictUpsert}

	// SQLite accepts the same $N parameters and ON CONFLICT clause (3.24+).
	SQLite = Dialect{Name: "sqlite3", bind: dollarBind, upsert: onConflictUpsert}

	MySQL = Dialect{
		Name: "mysql",
		bind: func(int) string { return "?" },
		upsert: func(cols []string) string {
			sets := make([]string, len(cols))
			for i, c := range cols {
				sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
			}
			return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		},
	}
)

// DialectFor maps a database/sql driver name to its Dialect.
func DialectFor(driverName string) (Dialect, error) {
	switch driverName {
	case "postgres", "pgx":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	case "mysql":
		return MySQL, nil
	}
	return Dialect{}, fmt.Errorf("repo: no SQL dialect for driver %q", driverName)
}

// placeholders renders n bind parameters starting at 1.
func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func dollarBind(n int) string { return fmt.Sprintf("$%d", n) }

func onConflictUpsert(cols []string) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c, c)
	}
	return "ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}
