package sql

import (
	"reflect"
	"strings"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
)

// Comparison is the operator of a leaf Criterion.
type Comparison string

// Supported comparisons.
const (
	EQ       Comparison = "="
	NEQ      Comparison = "<>"
	AltNEQ   Comparison = "!="
	GT       Comparison = ">"
	LT       Comparison = "<"
	GTE      Comparison = ">="
	LTE      Comparison = "<="
	Like     Comparison = "LIKE"
	NotLike  Comparison = "NOT LIKE"
	ILike    Comparison = "ILIKE"
	NotILike Comparison = "NOT ILIKE"
	In       Comparison = "IN"
	NotIn    Comparison = "NOT IN"
	IsNull   Comparison = "IS NULL"
	NotNull  Comparison = "IS NOT NULL"

	// Custom renders the value verbatim as the whole clause. The column only
	// serves as the key in the Criteria map.
	Custom Comparison = "CUSTOM"
	// CustomEqual renders "column = value" with the value verbatim. In
	// UPDATE statements it produces "SET column = value".
	CustomEqual Comparison = "CUSTOM_EQUAL"
	// Raw renders the column verbatim as a clause, binding the value to each
	// "?" marker in it.
	Raw Comparison = "RAW"
)

// LogicalOp joins predicates.
type LogicalOp string

// Logical operators.
const (
	OpAnd LogicalOp = "AND"
	OpOr  LogicalOp = "OR"
)

// Expression is a SQL fragment with its own arguments. Each "?" in SQL is
// replaced by a dialect placeholder at assembly time. Expressions may be
// used as the value of Custom and CustomEqual comparisons.
type Expression struct {
	SQL  string
	Args []any
}

// Expr returns a new Expression.
func Expr(sql string, args ...any) Expression {
	return Expression{SQL: sql, Args: args}
}

// Criterion is a single comparison, optionally combined with other
// criteria through AND/OR into a composite predicate.
type Criterion struct {
	table      string
	column     string
	comparison Comparison
	value      any
	ignoreCase bool

	clauses      []*Criterion
	conjunctions []LogicalOp
}

// NewCriterion returns a comparison on a "table.column" reference. A
// reference without a dot has no table. Raw criteria keep the whole
// reference as their clause.
func NewCriterion(column string, value any, cmp Comparison) *Criterion {
	if cmp == Raw {
		return &Criterion{column: column, value: value, comparison: cmp}
	}
	table, col := splitColumn(column)
	return &Criterion{table: table, column: col, value: value, comparison: cmp}
}

// NewTableCriterion returns a comparison on an explicit table and column.
func NewTableCriterion(table, column string, value any, cmp Comparison) *Criterion {
	return &Criterion{table: table, column: column, value: value, comparison: cmp}
}

// Table returns the table (or alias) of the leaf comparison.
func (c *Criterion) Table() string { return c.table }

// Column returns the column of the leaf comparison.
func (c *Criterion) Column() string { return c.column }

// Comparison returns the operator of the leaf comparison.
func (c *Criterion) Comparison() Comparison { return c.comparison }

// Value returns the bound value of the leaf comparison.
func (c *Criterion) Value() any { return c.value }

// Key returns the Criteria map key of the criterion.
func (c *Criterion) Key() string {
	if c.table == "" {
		return c.column
	}
	return c.table + "." + c.column
}

// IgnoreCase reports whether string comparisons are case-insensitive.
func (c *Criterion) IgnoreCase() bool { return c.ignoreCase }

// SetIgnoreCase makes string comparisons of the leaf case-insensitive.
func (c *Criterion) SetIgnoreCase(b bool) *Criterion {
	c.ignoreCase = b
	return c
}

// Clauses returns the criteria combined with this one, in order.
func (c *Criterion) Clauses() []*Criterion { return c.clauses }

// Conjunctions returns the operators joining each clause.
func (c *Criterion) Conjunctions() []LogicalOp { return c.conjunctions }

// And returns a new composite predicate: c AND o.
func (c *Criterion) And(o *Criterion) *Criterion {
	return c.combine(OpAnd, o)
}

// Or returns a new composite predicate: c OR o.
func (c *Criterion) Or(o *Criterion) *Criterion {
	return c.combine(OpOr, o)
}

func (c *Criterion) combine(op LogicalOp, o *Criterion) *Criterion {
	n := *c
	n.clauses = append(append(make([]*Criterion, 0, len(c.clauses)+1), c.clauses...), o)
	n.conjunctions = append(append(make([]LogicalOp, 0, len(c.conjunctions)+1), c.conjunctions...), op)
	return &n
}

// Tables returns every table referenced by the predicate tree, in order
// of first appearance.
func (c *Criterion) Tables() []string {
	var tables []string
	seen := make(map[string]bool)
	var walk func(*Criterion)
	walk = func(c *Criterion) {
		if c.table != "" && !seen[c.table] {
			seen[c.table] = true
			tables = append(tables, c.table)
		}
		for _, cl := range c.clauses {
			walk(cl)
		}
	}
	walk(c)
	return tables
}

// Equal reports whether both predicates have the same table, column,
// comparison, value and recursively equal clauses in the same order.
func (c *Criterion) Equal(o *Criterion) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	if c.table != o.table || c.column != o.column || c.comparison != o.comparison ||
		c.ignoreCase != o.ignoreCase || !reflect.DeepEqual(c.value, o.value) ||
		len(c.clauses) != len(o.clauses) {
		return false
	}
	for i := range c.clauses {
		if c.conjunctions[i] != o.conjunctions[i] || !c.clauses[i].Equal(o.clauses[i]) {
			return false
		}
	}
	return true
}

// render writes the predicate, binding values through b. Consecutive
// clauses joined by the same operator share one parenthesized group.
func (c *Criterion) render(b *builder) (string, error) {
	self, err := c.renderLeaf(b)
	if err != nil {
		return "", err
	}
	if len(c.clauses) == 0 {
		return self, nil
	}
	groups := 1
	for i := 1; i < len(c.conjunctions); i++ {
		if c.conjunctions[i] != c.conjunctions[i-1] {
			groups++
		}
	}
	var sb strings.Builder
	sb.WriteString(strings.Repeat("(", groups))
	sb.WriteString(self)
	for i, cl := range c.clauses {
		s, err := cl.render(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(" " + string(c.conjunctions[i]) + " ")
		sb.WriteString(s)
		if i == len(c.clauses)-1 || c.conjunctions[i+1] != c.conjunctions[i] {
			sb.WriteByte(')')
		}
	}
	return sb.String(), nil
}

func (c *Criterion) renderLeaf(b *builder) (string, error) {
	field := b.column(c.table, c.column)
	switch c.comparison {
	case Custom:
		return b.verbatim(c.value)
	case CustomEqual:
		v, err := b.verbatim(c.value)
		if err != nil {
			return "", err
		}
		return field + " = " + v, nil
	case Raw:
		var args []any
		switch v := c.value.(type) {
		case nil:
		case []any:
			args = v
		default:
			args = []any{v}
		}
		return b.markers(c.column, args)
	case IsNull, NotNull:
		return field + " " + string(c.comparison), nil
	case In, NotIn:
		return c.renderIn(b, field), nil
	case EQ, NEQ, AltNEQ:
		if c.value == nil {
			if c.comparison == EQ {
				return field + " IS NULL", nil
			}
			return field + " IS NOT NULL", nil
		}
		return c.renderBinary(b, field, string(c.comparison)), nil
	case GT, LT, GTE, LTE, Like, NotLike:
		return c.renderBinary(b, field, string(c.comparison)), nil
	case ILike, NotILike:
		if b.adapter.Dialect() == dialect.Postgres {
			p := b.bind(c.table, c.column, c.value)
			return field + " " + string(c.comparison) + " " + p, nil
		}
		op := string(Like)
		if c.comparison == NotILike {
			op = string(NotLike)
		}
		p := b.bind(c.table, c.column, c.value)
		return b.adapter.IgnoreCase(field) + " " + op + " " + b.adapter.IgnoreCase(p), nil
	default:
		return "", orbit.NewConfigError("criterion", "unsupported comparison %q on %s", c.comparison, c.Key())
	}
}

func (c *Criterion) renderBinary(b *builder, field, op string) string {
	p := b.bind(c.table, c.column, c.value)
	if _, ok := c.value.(string); ok && (c.ignoreCase || b.ignoreCase) {
		return b.adapter.IgnoreCase(field) + " " + op + " " + b.adapter.IgnoreCase(p)
	}
	return field + " " + op + " " + p
}

func (c *Criterion) renderIn(b *builder, field string) string {
	values := listValues(c.value)
	if len(values) == 0 {
		// An empty IN matches nothing, an empty NOT IN matches everything.
		if c.comparison == In {
			return "1<>1"
		}
		return "1=1"
	}
	ps := make([]string, len(values))
	for i, v := range values {
		ps[i] = b.bind(c.table, c.column, v)
	}
	return field + " " + string(c.comparison) + " (" + strings.Join(ps, ", ") + ")"
}

// listValues flattens the value of an IN comparison.
func listValues(v any) []any {
	switch vs := v.(type) {
	case nil:
		return nil
	case []any:
		return vs
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	// []byte is a scalar value, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// splitColumn splits a "table.column" reference at its last dot.
func splitColumn(ref string) (table, column string) {
	if i := strings.LastIndexByte(ref, '.'); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}
