// Package sql assembles SQL statements from Criteria and runs them
// through database/sql.
//
// A Criteria is an accumulator: select columns, predicates keyed by
// "table.column", joins, grouping, ordering, pagination, table aliases and
// derived-table subqueries. Assembly walks it in a fixed order and produces
// a Statement holding the SQL text and its bound parameters, in the order
// their placeholders appear.
//
//	c := sql.NewCriteria("bookstore").
//		AddSelectColumn("book.id", "book.title").
//		Add("book.price", 10, sql.GT).
//		AddJoin("book.author_id", "author.id", sql.InnerJoin).
//		AddDescendingOrderByColumn("book.price").
//		SetLimit(5)
//	stmt, err := c.Build(sql.PostgresAdapter{})
//	// SELECT book.id, book.title FROM book INNER JOIN author ON (book.author_id=author.id)
//	// WHERE book.price > $1 ORDER BY book.price DESC LIMIT 5
//
// # Predicates
//
// A Criterion is one comparison. Criterion.And and Criterion.Or return a new
// composite predicate and never modify their receiver. Criteria.AddAnd and
// Criteria.AddOr combine with the condition already stored under the same
// key; AddOr falls back to the last added condition when the key is free.
//
// # Dialects
//
// An Adapter renders the dialect specific parts of a statement:
// placeholders, identifier quoting, LIMIT/OFFSET and row locks. SQL Server
// pagination is emulated with ROW_NUMBER().
//
//	sql.PostgresAdapter{} // $1, "ident", LIMIT n OFFSET m
//	sql.MySQLAdapter{}    // ?, `ident`, LIMIT m, n
//	sql.SQLiteAdapter{}   // ?, "ident", LIMIT n OFFSET m
//	sql.MSSQLAdapter{}    // @p1, [ident], TOP n / ROW_NUMBER()
//
// # Drivers
//
// Driver wraps a *database/sql.DB and implements dialect.Driver. Constraint
// violations reported by lib/pq, pgx, go-sql-driver/mysql and SQLite are
// returned as orbit.ConstraintError. StatsDriver and DebugDriver decorate
// any dialect.Driver with statistics and slog based statement logging.
package sql
