// Package dialect defines the database collaborator used by orbit.
//
// The core never talks to database/sql directly. Query execution, row
// cursors and transactions go through the small Driver, Tx and ExecQuerier
// interfaces declared here; dialect/sql provides the database/sql backed
// implementation.
//
// # Dialect Constants
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//	dialect.MSSQL    = "mssql"
//
// MSSQL has no bundled driver; its dialect policy exists so that queries can
// be assembled for it (including window-emulated LIMIT/OFFSET).
//
// # Sub-packages
//
//   - dialect/sql: Criteria query assembly, dialect adapters and the driver
//   - dialect/sql/sqlgraph: hydration of result rows into entity graphs
package dialect
