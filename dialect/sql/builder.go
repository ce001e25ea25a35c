package sql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/orbit"
)

// Param is a value bound to a placeholder, with the column it was
// compared to. Params are listed in the order their placeholders appear
// in the statement.
type Param struct {
	Table  string
	Column string
	Value  any
}

// Statement is an assembled SQL statement and its parameters.
type Statement struct {
	SQL    string
	Params []Param
}

// Args returns the parameter values, ready for ExecQuerier methods.
func (s *Statement) Args() []any {
	args := make([]any, len(s.Params))
	for i, p := range s.Params {
		args[i] = p.Value
	}
	return args
}

// CacheKey returns a stable digest of the statement text and its
// arguments, usable as a key for query result caches.
func (s *Statement) CacheKey() (string, error) {
	b, err := msgpack.Marshal(struct {
		SQL  string `msgpack:"sql"`
		Args []any  `msgpack:"args"`
	}{s.SQL, s.Args()})
	if err != nil {
		return "", orbit.NewConfigError("cache key", "encode arguments: %v", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// builder collects parameters while a statement is rendered.
type builder struct {
	adapter    Adapter
	params     []Param
	quote      bool
	ignoreCase bool
}

func newBuilder(a Adapter) *builder {
	return &builder{adapter: a}
}

// bind records a parameter and returns its placeholder.
func (b *builder) bind(table, column string, v any) string {
	b.params = append(b.params, Param{Table: table, Column: column, Value: v})
	return b.adapter.Placeholder(len(b.params))
}

func (b *builder) args() []any {
	return (&Statement{Params: b.params}).Args()
}

// column renders a possibly qualified column.
func (b *builder) column(table, column string) string {
	if !b.quote {
		if table == "" {
			return column
		}
		return table + "." + column
	}
	if table == "" {
		return b.adapter.QuoteIdentifier(column)
	}
	return b.adapter.QuoteIdentifierTable(table) + "." + b.adapter.QuoteIdentifier(column)
}

// ref renders a "table.column" reference.
func (b *builder) ref(ref string) string {
	if !b.quote {
		return ref
	}
	return b.column(splitColumn(ref))
}

// table renders a "table alias" reference.
func (b *builder) table(t string) string {
	if !b.quote {
		return t
	}
	return b.adapter.QuoteIdentifierTable(t)
}

// expr renders a select or order expression, quoting it only when it is a
// plain column reference.
func (b *builder) expr(s string) string {
	if b.quote && isIdentifier(strings.ReplaceAll(s, ".", "")) {
		return b.ref(s)
	}
	return s
}

// verbatim renders the value of a Custom comparison.
func (b *builder) verbatim(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case Expression:
		return b.markers(v.SQL, v.Args)
	case *Expression:
		return b.markers(v.SQL, v.Args)
	default:
		return "", orbit.NewConfigError("criterion", "custom comparison expects a string or an expression, got %T", v)
	}
}

// markers replaces each "?" outside string literals with a placeholder
// bound to the next argument.
func (b *builder) markers(s string, args []any) (string, error) {
	var (
		sb    strings.Builder
		n     int
		quote byte
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			if n >= len(args) {
				return "", orbit.NewConfigError("criterion", "expression %q has more markers than arguments (%d)", s, len(args))
			}
			sb.WriteString(b.bind("", "", args[n]))
			n++
			continue
		}
		sb.WriteByte(c)
	}
	if n != len(args) {
		return "", orbit.NewConfigError("criterion", "expression %q has %d markers for %d arguments", s, n, len(args))
	}
	return sb.String(), nil
}

// Build assembles the SELECT statement described by the Criteria.
func (c *Criteria) Build(a Adapter) (*Statement, error) {
	b := newBuilder(a)
	query, err := c.assemble(b, false)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: query, Params: b.params}, nil
}

// BuildCount assembles a statement counting the rows the Criteria selects.
// Grouped, distinct, paginated or derived-table queries are counted through
// a derived table.
func (c *Criteria) BuildCount(a Adapter) (*Statement, error) {
	b := newBuilder(a)
	if len(c.groupBy) > 0 || c.HasSelectModifier(Distinct) || c.limit > 0 || c.offset > 0 || len(c.selectQueries) > 0 {
		inner := c.Clone()
		inner.forUpdate = false
		query, err := inner.assemble(b, false)
		if err != nil {
			return nil, err
		}
		return &Statement{SQL: "SELECT COUNT(*) FROM (" + query + ") AS countrows", Params: b.params}, nil
	}
	inner := c.Clone().ClearOrderByColumns()
	inner.forUpdate = false
	query, err := inner.assemble(b, true)
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: query, Params: b.params}, nil
}

func (c *Criteria) assemble(b *builder, count bool) (string, error) {
	quote, ignoreCase := b.quote, b.ignoreCase
	b.quote, b.ignoreCase = c.quote, c.ignoreCase
	defer func() { b.quote, b.ignoreCase = quote, ignoreCase }()

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if c.comment != "" {
		sb.WriteString("/* " + strings.ReplaceAll(c.comment, "*/", "* /") + " */ ")
	}
	if len(c.modifiers) > 0 {
		sb.WriteString(strings.Join(c.modifiers, " ") + " ")
	}
	columns := make([]string, 0, len(c.selectColumns)+len(c.asColumns))
	for _, col := range c.selectColumns {
		columns = append(columns, b.expr(col))
	}
	for _, as := range c.asColumns {
		columns = append(columns, as.clause+" AS "+as.name)
	}
	switch {
	case count:
		sb.WriteString("COUNT(*)")
	case len(columns) == 0:
		sb.WriteString("*")
	default:
		sb.WriteString(strings.Join(columns, ", "))
	}

	from := c.fromTables()
	for i, t := range from {
		from[i] = b.table(t)
	}
	for _, q := range c.selectQueries {
		sub, err := q.criteria.assemble(b, false)
		if err != nil {
			return "", err
		}
		from = append(from, "("+sub+") AS "+q.alias)
	}
	if len(from) > 0 {
		sb.WriteString(" FROM " + strings.Join(from, ", "))
	}
	for _, j := range c.joins {
		s, err := j.clause(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(" " + s)
	}
	where, err := c.whereClause(b)
	if err != nil {
		return "", err
	}
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	if len(c.groupBy) > 0 {
		groups := make([]string, len(c.groupBy))
		for i, g := range c.groupBy {
			groups[i] = b.expr(g)
		}
		sb.WriteString(" GROUP BY " + strings.Join(groups, ", "))
	}
	if c.having != nil {
		s, err := c.having.render(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(" HAVING " + s)
	}
	if len(c.orderBy) > 0 {
		orders := make([]string, len(c.orderBy))
		for i, o := range c.orderBy {
			term, dir := splitDirection(o)
			orders[i] = b.expr(term) + dir
		}
		sb.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}
	query := sb.String()
	if !count && (c.limit > 0 || c.offset > 0) {
		if query, err = b.adapter.ApplyLimit(query, c.offset, c.limit); err != nil {
			return "", err
		}
	}
	if c.forUpdate {
		query = b.adapter.ApplyLock(query)
	}
	return query, nil
}

func (c *Criteria) whereClause(b *builder) (string, error) {
	terms := make([]string, 0, len(c.keys))
	for _, key := range c.keys {
		s, err := c.conditions[key].render(b)
		if err != nil {
			return "", err
		}
		terms = append(terms, s)
	}
	return strings.Join(terms, " AND "), nil
}

// fromTables lists the FROM entries implied by select columns, conditions
// and joins, in order of first appearance. Right tables of joins are
// rendered by the joins themselves.
func (c *Criteria) fromTables() []string {
	var tables []string
	add := func(t string) {
		if t != "" && !slices.Contains(tables, t) {
			tables = append(tables, t)
		}
	}
	for _, col := range c.selectColumns {
		add(c.tableWithAlias(selectColumnTable(col)))
	}
	for _, key := range c.keys {
		for _, t := range c.conditions[key].Tables() {
			if !c.HasSelectQuery(t) {
				add(c.tableWithAlias(t))
			}
		}
	}
	var right []string
	for _, j := range c.joins {
		if l := j.LeftTableWithAlias(); !slices.Contains(right, l) {
			add(l)
		}
		right = append(right, j.RightTableWithAlias())
	}
	if len(tables) == 0 && len(c.selectQueries) == 0 {
		add(c.primaryTable)
	}
	return slices.DeleteFunc(tables, func(t string) bool {
		return slices.Contains(right, t) || c.HasSelectQuery(t)
	})
}

// tableWithAlias expands a registered alias to "table alias".
func (c *Criteria) tableWithAlias(t string) string {
	if aliased, ok := c.aliases[t]; ok {
		return aliased + " " + t
	}
	return t
}

// selectColumnTable extracts the table of a select expression such as
// "book.title" or "COUNT(book.id)".
func selectColumnTable(col string) string {
	if i := strings.LastIndexByte(col, '('); i >= 0 {
		col = col[i+1:]
	}
	dot := strings.LastIndexByte(col, '.')
	if dot <= 0 {
		return ""
	}
	t := col[:dot]
	if !isIdentifier(t) {
		return ""
	}
	return t
}

func isIdentifier(s string) bool {
	if s == "" || '0' <= s[0] && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			return false
		}
	}
	return true
}

// tables lists the real tables referenced by the conditions.
func (c *Criteria) tables() []string {
	var tables []string
	for _, key := range c.keys {
		for _, t := range c.conditions[key].Tables() {
			if aliased, ok := c.aliases[t]; ok {
				t = aliased
			}
			if !slices.Contains(tables, t) {
				tables = append(tables, t)
			}
		}
	}
	return tables
}

// targetTable returns the single table a data-modifying statement affects.
func (c *Criteria) targetTable(op string) (string, error) {
	switch tables := c.tables(); {
	case len(tables) > 1:
		return "", orbit.NewConfigError(op, "cannot %s more than one table: %s", op, strings.Join(tables, ", "))
	case len(tables) == 1:
		return tables[0], nil
	case c.primaryTable != "":
		return c.primaryTable, nil
	default:
		return "", orbit.NewConfigError(op, "unable to determine the table to %s", op)
	}
}

// BuildUpdate assembles an UPDATE of the rows matched by the Criteria,
// setting the columns held by values. Values compared with CustomEqual are
// written verbatim, as in "SET lft = lft + 2".
func (c *Criteria) BuildUpdate(values *Criteria, a Adapter) (*Statement, error) {
	if values.Len() == 0 {
		return nil, orbit.NewConfigError("update", "no column to update")
	}
	if len(c.joins) > 0 {
		return nil, orbit.NewConfigError("update", "cannot update with joins")
	}
	target := values
	if len(values.tables()) == 0 && values.primaryTable == "" {
		target = c
	}
	table, err := target.targetTable("update")
	if err != nil {
		return nil, err
	}
	b := newBuilder(a)
	b.quote = c.quote
	sets := make([]string, 0, values.Len())
	for _, key := range values.keys {
		cr := values.conditions[key]
		col := b.column("", cr.Column())
		if cr.Comparison() == CustomEqual {
			v, err := b.verbatim(cr.Value())
			if err != nil {
				return nil, err
			}
			sets = append(sets, col+" = "+v)
			continue
		}
		sets = append(sets, col+" = "+b.bind(table, cr.Column(), cr.Value()))
	}
	query := "UPDATE " + b.table(table) + " SET " + strings.Join(sets, ", ")
	b.ignoreCase = c.ignoreCase
	where, err := c.whereClause(b)
	if err != nil {
		return nil, err
	}
	if where != "" {
		query += " WHERE " + where
	}
	return &Statement{SQL: query, Params: b.params}, nil
}

// BuildDelete assembles a DELETE of the rows matched by the Criteria.
// A Criteria without conditions is refused.
func (c *Criteria) BuildDelete(a Adapter) (*Statement, error) {
	table, err := c.targetTable("delete")
	if err != nil {
		return nil, err
	}
	b := newBuilder(a)
	b.quote, b.ignoreCase = c.quote, c.ignoreCase
	where, err := c.whereClause(b)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, orbit.NewConfigError("delete", "refusing to delete from table %s with an empty WHERE clause", table)
	}
	return &Statement{SQL: "DELETE FROM " + b.table(table) + " WHERE " + where, Params: b.params}, nil
}

// BuildInsert assembles an INSERT of one row holding the values of the
// Criteria conditions.
func (c *Criteria) BuildInsert(a Adapter) (*Statement, error) {
	if c.Len() == 0 {
		return nil, orbit.NewConfigError("insert", "no column to insert")
	}
	table, err := c.targetTable("insert")
	if err != nil {
		return nil, err
	}
	b := newBuilder(a)
	b.quote = c.quote
	columns := make([]string, len(c.keys))
	values := make([]string, len(c.keys))
	for i, key := range c.keys {
		cr := c.conditions[key]
		columns[i] = b.column("", cr.Column())
		if cr.Comparison() == CustomEqual {
			if values[i], err = b.verbatim(cr.Value()); err != nil {
				return nil, err
			}
			continue
		}
		values[i] = b.bind(table, cr.Column(), cr.Value())
	}
	query := "INSERT INTO " + b.table(table) + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
	return &Statement{SQL: query, Params: b.params}, nil
}

// BuildAll assembles the SELECT statements of several Criteria
// concurrently. The statements are returned in the order of the input.
func BuildAll(ctx context.Context, a Adapter, criteria ...*Criteria) ([]*Statement, error) {
	stmts := make([]*Statement, len(criteria))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range criteria {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := c.Build(a)
			if err != nil {
				return err
			}
			stmts[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stmts, nil
}
