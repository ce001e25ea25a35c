package sql

import (
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
)

// Adapter holds the dialect specific parts of statement assembly:
// identifier quoting, placeholders, pagination and row locking.
type Adapter interface {
	// Dialect returns the dialect name, one of the dialect constants.
	Dialect() string
	// QuoteIdentifier quotes a single identifier.
	QuoteIdentifier(string) string
	// QuoteIdentifierTable quotes a "schema.table alias" reference part by part.
	QuoteIdentifierTable(string) string
	// Placeholder returns the marker of the n-th bound parameter, starting at 1.
	Placeholder(n int) string
	// BooleanString returns the literal of a boolean value.
	BooleanString(bool) string
	// IgnoreCase wraps an expression for case-insensitive comparison.
	IgnoreCase(string) string
	// ApplyLimit paginates an assembled SELECT statement.
	ApplyLimit(query string, offset, limit int) (string, error)
	// ApplyLock appends the row lock clause, when the dialect has one.
	ApplyLock(query string) string
}

// AdapterFor returns the adapter of a dialect or driver name.
func AdapterFor(name string) (Adapter, error) {
	switch dialectOf(name) {
	case dialect.Postgres:
		return PostgresAdapter{}, nil
	case dialect.MySQL:
		return MySQLAdapter{}, nil
	case dialect.SQLite:
		return SQLiteAdapter{}, nil
	case dialect.MSSQL:
		return MSSQLAdapter{}, nil
	default:
		return nil, orbit.NewConfigError("adapter", "unsupported dialect %q", name)
	}
}

// dialectOf maps driver names to the dialect they speak.
func dialectOf(name string) string {
	switch name {
	case "pgx", "postgresql":
		return dialect.Postgres
	case "sqlite3":
		return dialect.SQLite
	case "sqlserver":
		return dialect.MSSQL
	}
	for _, d := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres, dialect.MSSQL} {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	return name
}

// PostgresAdapter assembles statements for PostgreSQL.
type PostgresAdapter struct{}

// Dialect implements the Adapter interface.
func (PostgresAdapter) Dialect() string { return dialect.Postgres }

// QuoteIdentifier implements the Adapter interface.
func (PostgresAdapter) QuoteIdentifier(s string) string { return pq.QuoteIdentifier(s) }

// QuoteIdentifierTable implements the Adapter interface.
func (a PostgresAdapter) QuoteIdentifierTable(s string) string {
	return quoteTable(s, a.QuoteIdentifier)
}

// Placeholder implements the Adapter interface.
func (PostgresAdapter) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// BooleanString implements the Adapter interface.
func (PostgresAdapter) BooleanString(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// IgnoreCase implements the Adapter interface.
func (PostgresAdapter) IgnoreCase(s string) string { return "UPPER(" + s + ")" }

// ApplyLimit implements the Adapter interface.
func (PostgresAdapter) ApplyLimit(query string, offset, limit int) (string, error) {
	if limit > 0 {
		query += " LIMIT " + strconv.Itoa(limit)
	}
	if offset > 0 {
		query += " OFFSET " + strconv.Itoa(offset)
	}
	return query, nil
}

// ApplyLock implements the Adapter interface.
func (PostgresAdapter) ApplyLock(query string) string { return query + " FOR UPDATE" }

// MySQLAdapter assembles statements for MySQL and MariaDB.
type MySQLAdapter struct{}

// Dialect implements the Adapter interface.
func (MySQLAdapter) Dialect() string { return dialect.MySQL }

// QuoteIdentifier implements the Adapter interface.
func (MySQLAdapter) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// QuoteIdentifierTable implements the Adapter interface.
func (a MySQLAdapter) QuoteIdentifierTable(s string) string {
	return quoteTable(s, a.QuoteIdentifier)
}

// Placeholder implements the Adapter interface.
func (MySQLAdapter) Placeholder(int) string { return "?" }

// BooleanString implements the Adapter interface.
func (MySQLAdapter) BooleanString(b bool) string { return intBool(b) }

// IgnoreCase implements the Adapter interface.
func (MySQLAdapter) IgnoreCase(s string) string { return "UPPER(" + s + ")" }

// mysqlMaxRows is the documented way to express "no limit" with an offset.
const mysqlMaxRows = "18446744073709551615"

// ApplyLimit implements the Adapter interface.
func (MySQLAdapter) ApplyLimit(query string, offset, limit int) (string, error) {
	switch {
	case limit > 0 && offset > 0:
		return query + " LIMIT " + strconv.Itoa(offset) + ", " + strconv.Itoa(limit), nil
	case limit > 0:
		return query + " LIMIT " + strconv.Itoa(limit), nil
	case offset > 0:
		return query + " LIMIT " + strconv.Itoa(offset) + ", " + mysqlMaxRows, nil
	}
	return query, nil
}

// ApplyLock implements the Adapter interface.
func (MySQLAdapter) ApplyLock(query string) string { return query + " FOR UPDATE" }

// SQLiteAdapter assembles statements for SQLite.
type SQLiteAdapter struct{}

// Dialect implements the Adapter interface.
func (SQLiteAdapter) Dialect() string { return dialect.SQLite }

// QuoteIdentifier implements the Adapter interface.
func (SQLiteAdapter) QuoteIdentifier(s string) string { return pq.QuoteIdentifier(s) }

// QuoteIdentifierTable implements the Adapter interface.
func (a SQLiteAdapter) QuoteIdentifierTable(s string) string {
	return quoteTable(s, a.QuoteIdentifier)
}

// Placeholder implements the Adapter interface.
func (SQLiteAdapter) Placeholder(int) string { return "?" }

// BooleanString implements the Adapter interface.
func (SQLiteAdapter) BooleanString(b bool) string { return intBool(b) }

// IgnoreCase implements the Adapter interface.
func (SQLiteAdapter) IgnoreCase(s string) string { return "UPPER(" + s + ")" }

// ApplyLimit implements the Adapter interface.
func (SQLiteAdapter) ApplyLimit(query string, offset, limit int) (string, error) {
	switch {
	case limit > 0 && offset > 0:
		return query + " LIMIT " + strconv.Itoa(limit) + " OFFSET " + strconv.Itoa(offset), nil
	case limit > 0:
		return query + " LIMIT " + strconv.Itoa(limit), nil
	case offset > 0:
		return query + " LIMIT -1 OFFSET " + strconv.Itoa(offset), nil
	}
	return query, nil
}

// ApplyLock implements the Adapter interface. SQLite locks the whole
// database on write, so there is nothing to append.
func (SQLiteAdapter) ApplyLock(query string) string { return query }

// MSSQLAdapter assembles statements for SQL Server. Pagination is
// emulated with ROW_NUMBER(), see ApplyLimit.
type MSSQLAdapter struct{}

// Dialect implements the Adapter interface.
func (MSSQLAdapter) Dialect() string { return dialect.MSSQL }

// QuoteIdentifier implements the Adapter interface.
func (MSSQLAdapter) QuoteIdentifier(s string) string {
	return "[" + strings.ReplaceAll(s, "]", "]]") + "]"
}

// QuoteIdentifierTable implements the Adapter interface.
func (a MSSQLAdapter) QuoteIdentifierTable(s string) string {
	return quoteTable(s, a.QuoteIdentifier)
}

// Placeholder implements the Adapter interface.
func (MSSQLAdapter) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

// BooleanString implements the Adapter interface.
func (MSSQLAdapter) BooleanString(b bool) string { return intBool(b) }

// IgnoreCase implements the Adapter interface.
func (MSSQLAdapter) IgnoreCase(s string) string { return "UPPER(" + s + ")" }

// ApplyLock implements the Adapter interface. Row locks are expressed as
// table hints in SQL Server and are not emitted.
func (MSSQLAdapter) ApplyLock(query string) string { return query }

func intBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// quoteTable quotes every dotted part of every space separated word.
func quoteTable(s string, quote func(string) string) string {
	words := strings.Fields(s)
	for i, w := range words {
		parts := strings.Split(w, ".")
		for j, p := range parts {
			parts[j] = quote(p)
		}
		words[i] = strings.Join(parts, ".")
	}
	return strings.Join(words, " ")
}
