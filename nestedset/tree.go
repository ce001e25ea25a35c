package nestedset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

// Definition names the table and columns holding a tree.
type Definition struct {
	Table string
	ID    string // Primary key column. Defaults to "id".
	Left  string // Defaults to "lft".
	Right string // Defaults to "rgt".
	Level string // Defaults to "lvl".
	// Scope is the column partitioning independent trees in one table.
	// Empty means the table holds a single tree.
	Scope string
}

func (d *Definition) defaults() error {
	if d.Table == "" {
		return orbit.NewConfigError("nestedset", "table name is required")
	}
	if d.ID == "" {
		d.ID = "id"
	}
	if d.Left == "" {
		d.Left = "lft"
	}
	if d.Right == "" {
		d.Right = "rgt"
	}
	if d.Level == "" {
		d.Level = "lvl"
	}
	seen := make(map[string]bool)
	for _, c := range []string{d.ID, d.Left, d.Right, d.Level, d.Scope} {
		if c == "" {
			continue
		}
		if seen[c] {
			return orbit.NewConfigError("nestedset", "column %q is used twice in the definition of %s", c, d.Table)
		}
		seen[c] = true
	}
	return nil
}

// Tree runs nested-set operations against one table.
type Tree struct {
	drv     dialect.Driver
	def     Definition
	adapter sql.Adapter
	quote   bool
	log     *slog.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets the logger mutations are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tree) {
		t.log = l
	}
}

// WithAdapter overrides the adapter derived from the driver dialect.
func WithAdapter(a sql.Adapter) Option {
	return func(t *Tree) {
		t.adapter = a
	}
}

// WithIdentifierQuoting quotes table and column names in every statement.
func WithIdentifierQuoting() Option {
	return func(t *Tree) {
		t.quote = true
	}
}

// New returns a Tree over the table described by def.
func New(drv dialect.Driver, def Definition, opts ...Option) (*Tree, error) {
	if err := def.defaults(); err != nil {
		return nil, err
	}
	t := &Tree{drv: drv, def: def, log: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	if t.adapter == nil {
		a, err := sql.AdapterFor(drv.Dialect())
		if err != nil {
			return nil, err
		}
		t.adapter = a
	}
	return t, nil
}

// Definition returns the table definition with defaults applied.
func (t *Tree) Definition() Definition { return t.def }

// Scoped reports whether the table holds several trees.
func (t *Tree) Scoped() bool { return t.def.Scope != "" }

// ref returns the table-qualified reference of column.
func (t *Tree) ref(column string) string { return t.def.Table + "." + column }

// ident returns column as it must appear inside raw expressions.
func (t *Tree) ident(column string) string {
	if t.quote {
		return t.adapter.QuoteIdentifier(column)
	}
	return column
}

// base returns a SELECT of the node columns.
func (t *Tree) base() *sql.Criteria {
	c := sql.NewCriteria("").
		AddSelectColumn(t.ref(t.def.ID), t.ref(t.def.Left), t.ref(t.def.Right), t.ref(t.def.Level)).
		SetPrimaryTableName(t.def.Table).
		SetIdentifierQuoting(t.quote)
	if t.Scoped() {
		c.AddSelectColumn(t.ref(t.def.Scope))
	}
	return c
}

// criteria returns a SELECT of the node columns restricted to scope.
func (t *Tree) criteria(scope int64) *sql.Criteria {
	c := t.base()
	if t.Scoped() {
		c.Add(t.ref(t.def.Scope), scope, sql.EQ)
	}
	return c
}

// where returns an empty criteria for UPDATE and DELETE statements on
// scope.
func (t *Tree) where(scope int64) *sql.Criteria {
	c := sql.NewCriteria("").SetPrimaryTableName(t.def.Table).SetIdentifierQuoting(t.quote)
	if t.Scoped() {
		c.Add(t.ref(t.def.Scope), scope, sql.EQ)
	}
	return c
}

// nodes runs c and scans every row into a Node.
func (t *Tree) nodes(ctx context.Context, q sql.Querier, c *sql.Criteria) ([]*Node, error) {
	stmt, err := c.Build(t.adapter)
	if err != nil {
		return nil, err
	}
	rows, err := sql.QueryStatement(ctx, q, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var nodes []*Node
	for rows.Next() {
		n := &Node{}
		dest := []any{&n.ID, &n.Left, &n.Right, &n.Level}
		if t.Scoped() {
			dest = append(dest, &n.Scope)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("nestedset: scan %s: %w", t.def.Table, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// one returns the single node matched by c, or nil.
func (t *Tree) one(ctx context.Context, q sql.Querier, c *sql.Criteria) (*Node, error) {
	nodes, err := t.nodes(ctx, q, c.SetLimit(1))
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// exec builds and runs a data-modifying statement.
func (t *Tree) exec(ctx context.Context, ex dialect.ExecQuerier, stmt *sql.Statement, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	res, err := sql.ExecStatement(ctx, ex, stmt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// snapshot holds the nodes of one scope read under lock.
type snapshot struct {
	scope int64
	nodes map[int64]*Node
}

// lock locks every row of scope and returns their current positions.
func (t *Tree) lock(ctx context.Context, tx dialect.Tx, scope int64) (*snapshot, error) {
	c := t.criteria(scope).AddAscendingOrderByColumn(t.ref(t.def.Left)).SetForUpdate(true)
	nodes, err := t.nodes(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	s := &snapshot{scope: scope, nodes: make(map[int64]*Node, len(nodes))}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s, nil
}

// get returns the locked position of the node with the given id.
func (s *snapshot) get(op string, id int64) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, &orbit.IntegrityError{
			Op:  op,
			Msg: fmt.Sprintf("node is not in scope %d", s.scope),
			Err: orbit.NewNotFoundErrorWithID("node", id),
		}
	}
	return n, nil
}

// txOptions returns the options of the transaction running op. Mutations
// of one scope must be serialized: the lock SELECT does that when the
// dialect has a lock clause and the scope has rows. Otherwise, which
// includes every root creation, the transaction is serializable. SQLite
// transactions always are.
func (t *Tree) txOptions(op string) *sql.TxOptions {
	if t.adapter.Dialect() == dialect.SQLite {
		return nil
	}
	if op == OpCreateRoot || t.adapter.ApplyLock("") == "" {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

// mutate runs fn in a transaction holding the lock on scope.
func (t *Tree) mutate(ctx context.Context, op string, scope, node int64, fn func(context.Context, dialect.Tx, *snapshot) error) error {
	log := t.log.With("op_id", uuid.NewString(), "op", op, "table", t.def.Table, "scope", scope, "node", node)
	tx, err := sql.BeginTx(ctx, t.drv, t.txOptions(op))
	if err != nil {
		return orbit.NewMutationError(t.def.Table, op, err)
	}
	s, err := t.lock(ctx, tx, scope)
	if err == nil {
		err = fn(ctx, tx, s)
	}
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = &orbit.RollbackError{Err: err, Rollback: rerr}
		}
		log.DebugContext(ctx, "tree mutation rolled back", "error", err)
		return orbit.NewMutationError(t.def.Table, op, err)
	}
	if err := tx.Commit(); err != nil {
		return orbit.NewMutationError(t.def.Table, op, err)
	}
	log.DebugContext(ctx, "tree mutation committed")
	return nil
}

// Refresh reloads the positions of nodes from the database. Nodes that no
// longer exist are reset to a position outside any tree.
func (t *Tree) Refresh(ctx context.Context, nodes ...TreeNode) error {
	byID := make(map[int64][]*Node, len(nodes))
	ids := make([]int64, 0, len(nodes))
	for _, tn := range nodes {
		n := tn.TreeNode()
		if n.ID == 0 {
			continue
		}
		if _, ok := byID[n.ID]; !ok {
			ids = append(ids, n.ID)
		}
		byID[n.ID] = append(byID[n.ID], n)
	}
	if len(ids) == 0 {
		return nil
	}
	c := t.base().AddCriterion(sql.Column[int64](t.ref(t.def.ID)).In(ids...))
	fresh, err := t.nodes(ctx, t.drv, c)
	if err != nil {
		return err
	}
	for _, f := range fresh {
		for _, n := range byID[f.ID] {
			n.Left, n.Right, n.Level, n.Scope = f.Left, f.Right, f.Level, f.Scope
		}
		delete(byID, f.ID)
	}
	for _, gone := range byID {
		for _, n := range gone {
			n.Left, n.Right, n.Level = 0, 0, 0
		}
	}
	return nil
}

// insert writes a new node row and returns its id.
func (t *Tree) insert(ctx context.Context, tx dialect.Tx, n *Node, fields map[string]any) (int64, error) {
	c := sql.NewCriteria("").SetPrimaryTableName(t.def.Table).SetIdentifierQuoting(t.quote)
	if n.ID != 0 {
		c.Add(t.ref(t.def.ID), n.ID, sql.EQ)
	}
	c.Add(t.ref(t.def.Left), n.Left, sql.EQ).
		Add(t.ref(t.def.Right), n.Right, sql.EQ).
		Add(t.ref(t.def.Level), n.Level, sql.EQ)
	if t.Scoped() {
		c.Add(t.ref(t.def.Scope), n.Scope, sql.EQ)
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		c.Add(t.ref(k), fields[k], sql.EQ)
	}
	stmt, err := c.BuildInsert(t.adapter)
	if err != nil {
		return 0, err
	}
	if n.ID != 0 {
		_, err := sql.ExecStatement(ctx, tx, stmt)
		return n.ID, err
	}
	if t.adapter.Dialect() == dialect.Postgres {
		stmt.SQL += " RETURNING " + t.ident(t.def.ID)
		rows, err := sql.QueryStatement(ctx, tx, stmt)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		var id int64
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, err
			}
			return 0, errors.New("nestedset: insert returned no id")
		}
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Close()
	}
	res, err := sql.ExecStatement(ctx, tx, stmt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
