package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syssam/orbit/dialect"
)

// Driver is a dialect.Driver implementation for SQL based databases. It
// also knows the Adapter used to assemble statements for its dialect.
type Driver struct {
	Conn
	dialect string
	adapter Adapter
}

// NewDriver creates a new Driver with the given Conn and dialect name.
// Unknown dialects fall back to the SQLite adapter, which speaks the most
// portable subset of SQL.
func NewDriver(name string, c Conn) *Driver {
	a, err := AdapterFor(name)
	if err != nil {
		a = SQLiteAdapter{}
	}
	return &Driver{Conn: c, dialect: name, adapter: a}
}

// Open wraps the database/sql.Open method and returns a Driver. The driver
// name may be any registered database/sql driver, such as "postgres",
// "pgx", "mysql" or "sqlite".
func Open(driverName, source string) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(driverName, db), nil
}

// OpenDB wraps the given database/sql.DB with a Driver.
func OpenDB(driverName string, db *sql.DB) *Driver {
	return NewDriver(driverName, Conn{db})
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect implements the dialect.Driver interface.
func (d Driver) Dialect() string {
	return dialectOf(d.dialect)
}

// Adapter returns the statement adapter of the driver dialect.
func (d Driver) Adapter() Adapter {
	return d.adapter
}

// Tx starts and returns a transaction.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin: %w", err)
	}
	return &Tx{Conn: Conn{tx}, tx: tx}, nil
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx implements the dialect.Tx interface.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
}

// Exec implements the dialect.ExecQuerier interface. Constraint violations
// reported by the database are returned as orbit.ConstraintError.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	switch v := v.(type) {
	case nil:
		if _, err := c.ExecContext(ctx, query, argv...); err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", classify(err))
		}
	case *sql.Result:
		res, err := c.ExecContext(ctx, query, argv...)
		if err != nil {
			return fmt.Errorf("dialect/sql: exec: %w", classify(err))
		}
		*v = res
	default:
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	return nil
}

// Query implements the dialect.ExecQuerier interface.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", classify(err))
	}
	*vr = Rows{rows}
	return nil
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// NullInt64 is an alias to sql.NullInt64.
	NullInt64 = sql.NullInt64
	// NullString is an alias to sql.NullString.
	NullString = sql.NullString
	// TxOptions holds the transaction options to be used in DB.BeginTx.
	TxOptions = sql.TxOptions
	// IsolationLevel is an alias to sql.IsolationLevel.
	IsolationLevel = sql.IsolationLevel
)

// Isolation levels of TxOptions.
const (
	LevelDefault      = sql.LevelDefault
	LevelSerializable = sql.LevelSerializable
)

// TxBeginner is implemented by drivers that start transactions with
// options.
type TxBeginner interface {
	BeginTx(context.Context, *TxOptions) (dialect.Tx, error)
}

// BeginTx starts a transaction on drv with opts. Nil options start a
// default transaction through drv.Tx.
func BeginTx(ctx context.Context, drv dialect.Driver, opts *TxOptions) (dialect.Tx, error) {
	if opts == nil {
		return drv.Tx(ctx)
	}
	b, ok := drv.(TxBeginner)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: driver %T does not support transaction options", drv)
	}
	return b.BeginTx(ctx, opts)
}

var (
	_ TxBeginner = (*Driver)(nil)
	_ TxBeginner = (*StatsDriver)(nil)
	_ TxBeginner = (*DebugDriver)(nil)
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// Querier is the subset of dialect.ExecQuerier needed to run assembled
// statements.
type Querier interface {
	Query(ctx context.Context, query string, args, v any) error
}

// QueryStatement runs an assembled SELECT statement.
func QueryStatement(ctx context.Context, q Querier, s *Statement) (*Rows, error) {
	rows := &Rows{}
	if err := q.Query(ctx, s.SQL, s.Args(), rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecStatement runs an assembled data-modifying statement.
func ExecStatement(ctx context.Context, ex dialect.ExecQuerier, s *Statement) (Result, error) {
	var res Result
	if err := ex.Exec(ctx, s.SQL, s.Args(), &res); err != nil {
		return nil, err
	}
	return res, nil
}

// ScanRows reads every remaining row as a slice of column values and
// closes rows.
func ScanRows(rows ColumnScanner) ([][]any, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
