package sql

import (
	"maps"
	"slices"
	"strconv"

	"github.com/syssam/orbit"
)

// Select modifiers with special handling.
const (
	Distinct = "DISTINCT"
	All      = "ALL"
)

type asColumn struct {
	name, clause string
}

type selectQuery struct {
	alias    string
	criteria *Criteria
}

// Criteria accumulates everything needed to assemble a SELECT statement:
// select columns, predicates keyed by "table.column", joins, grouping,
// ordering, pagination, table aliases and derived-table subqueries.
//
// A Criteria is not safe for concurrent mutation. Assembly does not
// mutate it, so distinct instances can be assembled in parallel.
type Criteria struct {
	dbName        string
	primaryTable  string
	modifiers     []string
	selectColumns []string
	asColumns     []asColumn
	keys          []string
	conditions    map[string]*Criterion
	named         map[string]*Criterion
	orderBy       []string
	groupBy       []string
	having        *Criterion
	joins         []*Join
	selectQueries []selectQuery
	aliases       map[string]string
	limit         int
	offset        int
	comment       string
	ignoreCase    bool
	forUpdate     bool
	quote         bool
	defaultOp     LogicalOp
}

// NewCriteria returns an empty Criteria bound to the named database.
func NewCriteria(dbName string) *Criteria {
	return &Criteria{
		dbName:     dbName,
		conditions: make(map[string]*Criterion),
		named:      make(map[string]*Criterion),
		aliases:    make(map[string]string),
		defaultOp:  OpAnd,
	}
}

// DBName returns the database the Criteria is bound to.
func (c *Criteria) DBName() string { return c.dbName }

// SetDBName binds the Criteria to a database.
func (c *Criteria) SetDBName(name string) *Criteria {
	c.dbName = name
	return c
}

// Clear resets the Criteria to its empty state, keeping the database name.
func (c *Criteria) Clear() *Criteria {
	*c = *NewCriteria(c.dbName)
	return c
}

// Add sets the condition for the column, replacing any previous condition
// with the same key.
func (c *Criteria) Add(column string, value any, cmp Comparison) *Criteria {
	return c.AddCriterion(NewCriterion(column, value, cmp))
}

// AddCriterion sets a condition under its key, replacing any previous one.
func (c *Criteria) AddCriterion(cr *Criterion) *Criteria {
	key := cr.Key()
	if _, ok := c.conditions[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.conditions[key] = cr
	return c
}

// AddAnd ANDs the criterion into the condition already set on the same
// key, or adds it when the key is free.
//
// AddAnd and AddOr are deliberately asymmetric: AddAnd only ever combines
// with a condition on the same column, while AddOr falls back to the last
// added condition.
func (c *Criteria) AddAnd(cr *Criterion) *Criteria {
	return c.addAnd(cr, true)
}

// AddOr ORs the criterion with the condition set on the same key. When the
// key is free, it ORs with the last added condition instead, or adds the
// criterion when the Criteria has no condition at all.
func (c *Criteria) AddOr(cr *Criterion) *Criteria {
	return c.addOr(cr, true)
}

func (c *Criteria) addAnd(cr *Criterion, preferColumn bool) *Criteria {
	key := cr.Key()
	if existing, ok := c.conditions[key]; preferColumn && ok {
		c.conditions[key] = existing.And(cr)
		return c
	}
	return c.AddCriterion(cr)
}

func (c *Criteria) addOr(cr *Criterion, preferColumn bool) *Criteria {
	key := cr.Key()
	if _, ok := c.conditions[key]; !preferColumn || !ok {
		if len(c.keys) == 0 {
			return c.AddCriterion(cr)
		}
		key = c.keys[len(c.keys)-1]
	}
	c.conditions[key] = c.conditions[key].Or(cr)
	return c
}

// Or makes the next AddUsingOperator call combine with OR.
func (c *Criteria) Or() *Criteria {
	c.defaultOp = OpOr
	return c
}

// And makes AddUsingOperator combine with AND. This is the default.
func (c *Criteria) And() *Criteria {
	c.defaultOp = OpAnd
	return c
}

// AddUsingOperator adds the criterion with the pending default operator.
// An OR set by Or applies to a single call.
func (c *Criteria) AddUsingOperator(cr *Criterion, preferColumn bool) *Criteria {
	if c.defaultOp == OpOr {
		c.defaultOp = OpAnd
		return c.addOr(cr, preferColumn)
	}
	return c.addAnd(cr, preferColumn)
}

// AddCond stages a named criterion for a later Combine.
func (c *Criteria) AddCond(name string, cr *Criterion) *Criteria {
	c.named[name] = cr
	return c
}

// Combine removes the staged criteria, folds them left to right with op
// and ANDs the result into the Criteria. With a non-empty name the result
// is staged again under that name instead.
func (c *Criteria) Combine(names []string, op LogicalOp, name string) error {
	if len(names) == 0 {
		return orbit.NewConfigError("combine", "no condition to combine")
	}
	if op != OpAnd && op != OpOr {
		return orbit.NewConfigError("combine", "unsupported logical operator %q", op)
	}
	for _, n := range names {
		if _, ok := c.named[n]; !ok {
			return orbit.NewConfigError("combine", "cannot combine unknown condition %s", n)
		}
	}
	result := c.named[names[0]]
	delete(c.named, names[0])
	for _, n := range names[1:] {
		if op == OpOr {
			result = result.Or(c.named[n])
		} else {
			result = result.And(c.named[n])
		}
		delete(c.named, n)
	}
	if name != "" {
		c.AddCond(name, result)
		return nil
	}
	c.AddAnd(result)
	return nil
}

// HasCond reports whether a criterion is staged under the name.
func (c *Criteria) HasCond(name string) bool {
	_, ok := c.named[name]
	return ok
}

// Keys returns the condition keys in insertion order.
func (c *Criteria) Keys() []string { return slices.Clone(c.keys) }

// ContainsKey reports whether a condition is set on the key.
func (c *Criteria) ContainsKey(key string) bool {
	_, ok := c.conditions[key]
	return ok
}

// Criterion returns the condition stored under the key.
func (c *Criteria) Criterion(key string) *Criterion { return c.conditions[key] }

// LastCriterion returns the most recently added condition.
func (c *Criteria) LastCriterion() *Criterion {
	if len(c.keys) == 0 {
		return nil
	}
	return c.conditions[c.keys[len(c.keys)-1]]
}

// Remove deletes the condition stored under the key and returns it.
func (c *Criteria) Remove(key string) *Criterion {
	cr, ok := c.conditions[key]
	if !ok {
		return nil
	}
	delete(c.conditions, key)
	c.keys = slices.DeleteFunc(c.keys, func(k string) bool { return k == key })
	return cr
}

// Len returns the number of top-level conditions.
func (c *Criteria) Len() int { return len(c.keys) }

// AddSelectColumn appends a column or expression to the select list.
func (c *Criteria) AddSelectColumn(columns ...string) *Criteria {
	c.selectColumns = append(c.selectColumns, columns...)
	return c
}

// SelectColumns returns the select list.
func (c *Criteria) SelectColumns() []string { return slices.Clone(c.selectColumns) }

// ClearSelectColumns empties the select list and the computed columns.
func (c *Criteria) ClearSelectColumns() *Criteria {
	c.selectColumns, c.asColumns = nil, nil
	return c
}

// AddAsColumn selects a computed clause under an alias. Re-adding an alias
// replaces its clause in place.
func (c *Criteria) AddAsColumn(name, clause string) *Criteria {
	for i := range c.asColumns {
		if c.asColumns[i].name == name {
			c.asColumns[i].clause = clause
			return c
		}
	}
	c.asColumns = append(c.asColumns, asColumn{name: name, clause: clause})
	return c
}

// AsColumn returns the clause of a computed column.
func (c *Criteria) AsColumn(name string) (string, bool) {
	for _, a := range c.asColumns {
		if a.name == name {
			return a.clause, true
		}
	}
	return "", false
}

// AsColumnNames returns the computed column aliases in insertion order.
func (c *Criteria) AsColumnNames() []string {
	names := make([]string, len(c.asColumns))
	for i, a := range c.asColumns {
		names[i] = a.name
	}
	return names
}

// AddAlias registers alias as another name for table.
func (c *Criteria) AddAlias(alias, table string) *Criteria {
	c.aliases[alias] = table
	return c
}

// RemoveAlias forgets an alias.
func (c *Criteria) RemoveAlias(alias string) *Criteria {
	delete(c.aliases, alias)
	return c
}

// TableForAlias returns the table an alias stands for.
func (c *Criteria) TableForAlias(alias string) (string, bool) {
	t, ok := c.aliases[alias]
	return t, ok
}

// TableNameAndAlias resolves a table reference that may be an alias.
// For an alias it returns the real table and the alias; otherwise the
// reference itself and an empty alias.
func (c *Criteria) TableNameAndAlias(ref string) (table, alias string) {
	if t, ok := c.aliases[ref]; ok {
		return t, ref
	}
	return ref, ""
}

// AddSelectModifier adds a keyword after SELECT. DISTINCT and ALL exclude
// each other; adding a modifier twice is a no-op.
func (c *Criteria) AddSelectModifier(m string) *Criteria {
	switch m {
	case Distinct:
		c.RemoveSelectModifier(All)
	case All:
		c.RemoveSelectModifier(Distinct)
	}
	if !c.HasSelectModifier(m) {
		c.modifiers = append(c.modifiers, m)
	}
	return c
}

// RemoveSelectModifier removes a keyword after SELECT.
func (c *Criteria) RemoveSelectModifier(m string) *Criteria {
	c.modifiers = slices.DeleteFunc(c.modifiers, func(s string) bool { return s == m })
	return c
}

// HasSelectModifier reports whether the modifier is set.
func (c *Criteria) HasSelectModifier(m string) bool { return slices.Contains(c.modifiers, m) }

// SelectModifiers returns the modifiers in insertion order.
func (c *Criteria) SelectModifiers() []string { return slices.Clone(c.modifiers) }

// SetDistinct adds the DISTINCT modifier.
func (c *Criteria) SetDistinct() *Criteria { return c.AddSelectModifier(Distinct) }

// SetAll adds the ALL modifier.
func (c *Criteria) SetAll() *Criteria { return c.AddSelectModifier(All) }

// AddJoin joins two "table.column" references, either side of which may
// use an alias registered with AddAlias. Adding a join equal to an
// existing one is a no-op.
func (c *Criteria) AddJoin(left, right string, jt JoinType) *Criteria {
	lref, lcol := splitColumn(left)
	rref, rcol := splitColumn(right)
	ltable, lalias := c.TableNameAndAlias(lref)
	rtable, ralias := c.TableNameAndAlias(rref)
	j := &Join{joinType: jt}
	j.AddExplicitCondition(ltable, lcol, lalias, rtable, rcol, ralias, "=")
	return c.AddJoinObject(j)
}

// JoinOn is one term of a multiple-condition join. A Right value that is a
// string containing a dot is a column reference; anything else is bound as
// a parameter.
type JoinOn struct {
	Left     string
	Right    any
	Operator string
}

// AddMultipleJoin adds a single join whose ON clause ANDs every term,
// as used for composite foreign keys.
func (c *Criteria) AddMultipleJoin(terms []JoinOn, jt JoinType) *Criteria {
	j := &Join{joinType: jt}
	for i, t := range terms {
		lref, lcol := splitColumn(t.Left)
		ltable, lalias := c.TableNameAndAlias(lref)
		if i == 0 {
			j.leftTable, j.leftAlias = ltable, lalias
		}
		left := qualify(ltable, lalias, lcol)
		if s, ok := t.Right.(string); ok && hasDot(s) {
			rref, rcol := splitColumn(s)
			rtable, ralias := c.TableNameAndAlias(rref)
			if j.rightTable == "" {
				j.rightTable, j.rightAlias = rtable, ralias
			}
			j.conditions = append(j.conditions, JoinCondition{Left: left, Operator: operatorOrEQ(t.Operator), Right: qualify(rtable, ralias, rcol)})
			continue
		}
		j.AddValueCondition(left, t.Operator, t.Right)
	}
	return c.AddJoinObject(j)
}

// AddJoinObject adds a prepared join unless an equal join exists.
func (c *Criteria) AddJoinObject(j *Join) *Criteria {
	for _, e := range c.joins {
		if e.Equal(j) {
			return c
		}
	}
	c.joins = append(c.joins, j)
	return c
}

// Joins returns the joins in declaration order.
func (c *Criteria) Joins() []*Join { return slices.Clone(c.joins) }

// AddSelectQuery uses a subquery as a derived table. An empty alias is
// generated as "alias_N", where N accounts for the aliases forged inside
// the subquery itself. The alias is returned.
func (c *Criteria) AddSelectQuery(sub *Criteria, alias string) string {
	if alias == "" {
		alias = "alias_" + strconv.Itoa(sub.forgeSelectQueryAlias()+len(c.selectQueries))
	}
	for i := range c.selectQueries {
		if c.selectQueries[i].alias == alias {
			c.selectQueries[i].criteria = sub
			return alias
		}
	}
	c.selectQueries = append(c.selectQueries, selectQuery{alias: alias, criteria: sub})
	return alias
}

// forgeSelectQueryAlias counts this query and every nested subquery.
func (c *Criteria) forgeSelectQueryAlias() int {
	n := 1
	for _, q := range c.selectQueries {
		n += q.criteria.forgeSelectQueryAlias()
	}
	return n
}

// HasSelectQuery reports whether a subquery uses the alias.
func (c *Criteria) HasSelectQuery(alias string) bool {
	return slices.ContainsFunc(c.selectQueries, func(q selectQuery) bool { return q.alias == alias })
}

// SelectQuery returns the subquery registered under the alias.
func (c *Criteria) SelectQuery(alias string) *Criteria {
	for _, q := range c.selectQueries {
		if q.alias == alias {
			return q.criteria
		}
	}
	return nil
}

// AddGroupByColumn appends a GROUP BY column.
func (c *Criteria) AddGroupByColumn(columns ...string) *Criteria {
	c.groupBy = append(c.groupBy, columns...)
	return c
}

// GroupByColumns returns the GROUP BY columns.
func (c *Criteria) GroupByColumns() []string { return slices.Clone(c.groupBy) }

// AddHaving sets the HAVING predicate.
func (c *Criteria) AddHaving(cr *Criterion) *Criteria {
	c.having = cr
	return c
}

// Having returns the HAVING predicate.
func (c *Criteria) Having() *Criterion { return c.having }

// AddAscendingOrderByColumn appends "column ASC" to ORDER BY.
func (c *Criteria) AddAscendingOrderByColumn(column string) *Criteria {
	c.orderBy = append(c.orderBy, column+" ASC")
	return c
}

// AddDescendingOrderByColumn appends "column DESC" to ORDER BY.
func (c *Criteria) AddDescendingOrderByColumn(column string) *Criteria {
	c.orderBy = append(c.orderBy, column+" DESC")
	return c
}

// OrderByColumns returns the ORDER BY terms.
func (c *Criteria) OrderByColumns() []string { return slices.Clone(c.orderBy) }

// ClearOrderByColumns empties ORDER BY.
func (c *Criteria) ClearOrderByColumns() *Criteria {
	c.orderBy = nil
	return c
}

// SetLimit sets the maximum number of rows. Zero means unbounded.
func (c *Criteria) SetLimit(n int) *Criteria {
	c.limit = max(n, 0)
	return c
}

// Limit returns the row limit.
func (c *Criteria) Limit() int { return c.limit }

// SetOffset sets the number of rows to skip.
func (c *Criteria) SetOffset(n int) *Criteria {
	c.offset = max(n, 0)
	return c
}

// Offset returns the row offset.
func (c *Criteria) Offset() int { return c.offset }

// SetComment sets a comment emitted right after SELECT.
func (c *Criteria) SetComment(s string) *Criteria {
	c.comment = s
	return c
}

// Comment returns the query comment.
func (c *Criteria) Comment() string { return c.comment }

// SetIgnoreCase makes every string comparison case-insensitive.
func (c *Criteria) SetIgnoreCase(b bool) *Criteria {
	c.ignoreCase = b
	return c
}

// IgnoreCase reports whether string comparisons are case-insensitive.
func (c *Criteria) IgnoreCase() bool { return c.ignoreCase }

// SetPrimaryTableName sets the table used in FROM when no column, condition
// or join names one.
func (c *Criteria) SetPrimaryTableName(table string) *Criteria {
	c.primaryTable = table
	return c
}

// PrimaryTableName returns the fallback FROM table.
func (c *Criteria) PrimaryTableName() string { return c.primaryTable }

// SetForUpdate appends the dialect's row lock clause to the statement.
func (c *Criteria) SetForUpdate(b bool) *Criteria {
	c.forUpdate = b
	return c
}

// SetIdentifierQuoting quotes table and column identifiers at assembly.
func (c *Criteria) SetIdentifierQuoting(b bool) *Criteria {
	c.quote = b
	return c
}

// If applies fn when cond holds.
func (c *Criteria) If(cond bool, fn func(*Criteria)) *Criteria {
	if cond {
		fn(c)
	}
	return c
}

// IfElse applies then when cond holds and els otherwise.
func (c *Criteria) IfElse(cond bool, then, els func(*Criteria)) *Criteria {
	if cond {
		then(c)
	} else if els != nil {
		els(c)
	}
	return c
}

// MergeWith merges another Criteria into this one. Conditions of o are
// ANDed in, or ORed when op is OpOr (or when Or was called before). The
// merge fails without modifying c when both define the same computed
// column, table alias or subquery alias.
func (c *Criteria) MergeWith(o *Criteria, op LogicalOp) error {
	for _, a := range o.asColumns {
		if _, ok := c.AsColumn(a.name); ok {
			return orbit.NewConfigError("merge", "the given criteria contains an AsColumn with an alias already existing in the current object: %s", a.name)
		}
	}
	for alias := range o.aliases {
		if _, ok := c.aliases[alias]; ok {
			return orbit.NewConfigError("merge", "the given criteria contains an alias already existing in the current object: %s", alias)
		}
	}
	for _, q := range o.selectQueries {
		if c.HasSelectQuery(q.alias) {
			return orbit.NewConfigError("merge", "the given criteria contains a subquery alias already existing in the current object: %s", q.alias)
		}
	}
	if c.limit == 0 {
		c.limit = o.limit
	}
	if c.offset == 0 {
		c.offset = o.offset
	}
	if len(c.modifiers) == 0 {
		c.modifiers = slices.Clone(o.modifiers)
	}
	c.selectColumns = append(c.selectColumns, o.selectColumns...)
	c.asColumns = append(c.asColumns, o.asColumns...)
	c.orderBy = appendUnique(c.orderBy, o.orderBy...)
	c.groupBy = appendUnique(c.groupBy, o.groupBy...)

	if op == OpOr {
		c.defaultOp = OpOr
	}
	for i, key := range o.keys {
		cr := o.conditions[key]
		switch {
		case i == 0 && c.defaultOp == OpOr:
			c.addOr(cr, false)
			c.defaultOp = OpAnd
		case c.ContainsKey(key):
			c.AddAnd(cr)
		default:
			c.AddCriterion(cr)
		}
	}
	if o.having != nil {
		if c.having != nil {
			c.having = c.having.And(o.having)
		} else {
			c.having = o.having
		}
	}
	for alias, table := range o.aliases {
		c.aliases[alias] = table
	}
	for _, j := range o.joins {
		c.AddJoinObject(j.clone())
	}
	for _, q := range o.selectQueries {
		c.selectQueries = append(c.selectQueries, selectQuery{alias: q.alias, criteria: q.criteria.Clone()})
	}
	return nil
}

// Equal reports whether both Criteria would assemble the same statement.
func (c *Criteria) Equal(o *Criteria) bool {
	if c == o {
		return true
	}
	if o == nil || c.dbName != o.dbName || c.limit != o.limit || c.offset != o.offset ||
		c.ignoreCase != o.ignoreCase || c.comment != o.comment || c.forUpdate != o.forUpdate ||
		c.primaryTable != o.primaryTable ||
		!slices.Equal(c.modifiers, o.modifiers) || !slices.Equal(c.selectColumns, o.selectColumns) ||
		!slices.Equal(c.asColumns, o.asColumns) || !slices.Equal(c.orderBy, o.orderBy) ||
		!slices.Equal(c.groupBy, o.groupBy) || !maps.Equal(c.aliases, o.aliases) ||
		len(c.keys) != len(o.keys) || len(c.joins) != len(o.joins) ||
		len(c.selectQueries) != len(o.selectQueries) || !c.having.Equal(o.having) {
		return false
	}
	for _, key := range o.keys {
		if !o.conditions[key].Equal(c.conditions[key]) {
			return false
		}
	}
	for i, j := range o.joins {
		if !j.Equal(c.joins[i]) {
			return false
		}
	}
	for i, q := range o.selectQueries {
		if q.alias != c.selectQueries[i].alias || !q.criteria.Equal(c.selectQueries[i].criteria) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy. Criterion values are shared, since combining
// them never mutates an existing criterion.
func (c *Criteria) Clone() *Criteria {
	n := *c
	n.modifiers = slices.Clone(c.modifiers)
	n.selectColumns = slices.Clone(c.selectColumns)
	n.asColumns = slices.Clone(c.asColumns)
	n.keys = slices.Clone(c.keys)
	n.orderBy = slices.Clone(c.orderBy)
	n.groupBy = slices.Clone(c.groupBy)
	n.conditions = maps.Clone(c.conditions)
	n.named = maps.Clone(c.named)
	n.aliases = maps.Clone(c.aliases)
	n.joins = make([]*Join, len(c.joins))
	for i, j := range c.joins {
		n.joins[i] = j.clone()
	}
	n.selectQueries = make([]selectQuery, len(c.selectQueries))
	for i, q := range c.selectQueries {
		n.selectQueries[i] = selectQuery{alias: q.alias, criteria: q.criteria.Clone()}
	}
	return &n
}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		if !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}

func hasDot(s string) bool {
	t, _ := splitColumn(s)
	return t != ""
}

func operatorOrEQ(op string) string {
	if op == "" {
		return "="
	}
	return op
}
