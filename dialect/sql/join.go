package sql

import (
	"reflect"
	"strings"
)

// JoinType is the SQL keyword introducing a join.
type JoinType string

// Join types.
const (
	InnerJoin JoinType = "INNER JOIN"
	LeftJoin  JoinType = "LEFT JOIN"
	RightJoin JoinType = "RIGHT JOIN"
)

// JoinCondition is one "left operator right" term of a join. When Literal
// is set, Value is bound as a parameter instead of the Right column.
type JoinCondition struct {
	Left     string
	Operator string
	Right    string
	Value    any
	Literal  bool
}

// Join is a table join: a type and the conditions ANDed in its ON clause.
//
//	j := sql.NewJoin("book.author_id", "author.id", sql.LeftJoin)
//	// LEFT JOIN author ON (book.author_id=author.id)
type Join struct {
	conditions []JoinCondition
	joinType   JoinType
	condition  *Criterion

	leftTable, leftAlias   string
	rightTable, rightAlias string
}

// NewJoin returns a join on a single equality between two "table.column"
// references.
func NewJoin(left, right string, jt JoinType) *Join {
	j := &Join{joinType: jt}
	j.AddCondition(left, right, "=")
	return j
}

// NewCompositeJoin returns a join on pairwise equalities of two column lists.
func NewCompositeJoin(lefts, rights []string, jt JoinType) *Join {
	j := &Join{joinType: jt}
	for i := range lefts {
		if i < len(rights) {
			j.AddCondition(lefts[i], rights[i], "=")
		}
	}
	return j
}

// AddCondition appends "left operator right" where both sides are column
// references. The first condition sets the join's left and right tables.
func (j *Join) AddCondition(left, right, operator string) *Join {
	if operator == "" {
		operator = "="
	}
	if lt, _ := splitColumn(left); lt != "" && j.leftTable == "" {
		j.leftTable = lt
	}
	if rt, _ := splitColumn(right); rt != "" && j.rightTable == "" {
		j.rightTable = rt
	}
	j.conditions = append(j.conditions, JoinCondition{Left: left, Operator: operator, Right: right})
	return j
}

// AddExplicitCondition appends a condition from already resolved parts.
// Empty aliases mean the table is referenced by its name.
func (j *Join) AddExplicitCondition(leftTable, leftColumn, leftAlias, rightTable, rightColumn, rightAlias, operator string) *Join {
	if operator == "" {
		operator = "="
	}
	j.leftTable, j.leftAlias = leftTable, leftAlias
	j.rightTable, j.rightAlias = rightTable, rightAlias
	j.conditions = append(j.conditions, JoinCondition{
		Left:     qualify(leftTable, leftAlias, leftColumn),
		Operator: operator,
		Right:    qualify(rightTable, rightAlias, rightColumn),
	})
	return j
}

// AddValueCondition appends "left operator value" with the value bound as
// a parameter.
func (j *Join) AddValueCondition(left, operator string, v any) *Join {
	if operator == "" {
		operator = "="
	}
	j.conditions = append(j.conditions, JoinCondition{Left: left, Operator: operator, Value: v, Literal: true})
	return j
}

// SetJoinCondition replaces the rendered ON clause by an arbitrary predicate.
func (j *Join) SetJoinCondition(c *Criterion) *Join {
	j.condition = c
	return j
}

// JoinCondition returns the predicate set by SetJoinCondition, if any.
func (j *Join) JoinCondition() *Criterion { return j.condition }

// Conditions returns the conditions of the join, in order.
func (j *Join) Conditions() []JoinCondition { return j.conditions }

// Len returns the number of conditions.
func (j *Join) Len() int { return len(j.conditions) }

// LeftColumn returns the left side of the i-th condition.
func (j *Join) LeftColumn(i int) string { return j.conditions[i].Left }

// RightColumn returns the right side of the i-th condition.
func (j *Join) RightColumn(i int) string { return j.conditions[i].Right }

// Operator returns the operator of the i-th condition.
func (j *Join) Operator(i int) string { return j.conditions[i].Operator }

// SetJoinType sets the join type.
func (j *Join) SetJoinType(jt JoinType) *Join {
	j.joinType = jt
	return j
}

// JoinType returns the join type. An unset type is an inner join.
func (j *Join) JoinType() JoinType {
	if j.joinType == "" {
		return InnerJoin
	}
	return j.joinType
}

// SetLeftTable sets the left table name and alias.
func (j *Join) SetLeftTable(name, alias string) *Join {
	j.leftTable, j.leftAlias = name, alias
	return j
}

// SetRightTable sets the right table name and alias.
func (j *Join) SetRightTable(name, alias string) *Join {
	j.rightTable, j.rightAlias = name, alias
	return j
}

// LeftTableName returns the left table name.
func (j *Join) LeftTableName() string { return j.leftTable }

// LeftTableAlias returns the left table alias.
func (j *Join) LeftTableAlias() string { return j.leftAlias }

// RightTableName returns the right table name.
func (j *Join) RightTableName() string { return j.rightTable }

// RightTableAlias returns the right table alias.
func (j *Join) RightTableAlias() string { return j.rightAlias }

// LeftTableWithAlias returns "table alias", or the table alone.
func (j *Join) LeftTableWithAlias() string { return withAlias(j.leftTable, j.leftAlias) }

// RightTableWithAlias returns "table alias", or the table alone.
func (j *Join) RightTableWithAlias() string { return withAlias(j.rightTable, j.rightAlias) }

// Equal reports whether two joins have the same type and conditions.
func (j *Join) Equal(o *Join) bool {
	if j == o {
		return true
	}
	if j == nil || o == nil || j.JoinType() != o.JoinType() || len(j.conditions) != len(o.conditions) {
		return false
	}
	for i, c := range j.conditions {
		oc := o.conditions[i]
		if c.Left != oc.Left || c.Operator != oc.Operator || c.Right != oc.Right ||
			c.Literal != oc.Literal || !reflect.DeepEqual(c.Value, oc.Value) {
			return false
		}
	}
	if j.condition == nil || o.condition == nil {
		return j.condition == nil && o.condition == nil
	}
	return j.condition.Equal(o.condition)
}

// Clause renders the join for the given dialect.
func (j *Join) Clause(a Adapter) (string, []any, error) {
	b := newBuilder(a)
	s, err := j.clause(b)
	if err != nil {
		return "", nil, err
	}
	return s, b.args(), nil
}

// String implements the fmt.Stringer interface.
func (j *Join) String() string {
	s, _, err := j.Clause(SQLiteAdapter{})
	if err != nil {
		return string(j.JoinType()) + " " + j.RightTableWithAlias()
	}
	return s
}

func (j *Join) clause(b *builder) (string, error) {
	var on string
	if j.condition != nil {
		s, err := j.condition.render(b)
		if err != nil {
			return "", err
		}
		on = s
	} else {
		terms := make([]string, len(j.conditions))
		for i, c := range j.conditions {
			right := b.ref(c.Right)
			if c.Literal {
				lt, lc := splitColumn(c.Left)
				right = b.bind(lt, lc, c.Value)
			}
			terms[i] = b.ref(c.Left) + c.Operator + right
		}
		on = "(" + strings.Join(terms, " AND ") + ")"
	}
	return string(j.JoinType()) + " " + b.table(j.RightTableWithAlias()) + " ON " + on, nil
}

func (j *Join) clone() *Join {
	n := *j
	n.conditions = append([]JoinCondition(nil), j.conditions...)
	return &n
}

func qualify(table, alias, column string) string {
	switch {
	case alias != "":
		return alias + "." + column
	case table != "":
		return table + "." + column
	default:
		return column
	}
}

func withAlias(table, alias string) string {
	if alias == "" {
		return table
	}
	return table + " " + alias
}
