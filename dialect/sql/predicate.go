package sql

import "strings"

// Column is a typed "table.column" reference that builds criteria with
// values of the column type.
//
//	var (
//		BookID    = sql.Column[int64]("book.id")
//		BookTitle = sql.StringColumn("book.title")
//	)
//	c.AddCriterion(BookTitle.Contains("Go")).AddAnd(BookID.In(1, 2))
type Column[T any] string

// Name returns the column reference.
func (f Column[T]) Name() string { return string(f) }

// EQ returns a criterion matching rows where the column equals v.
func (f Column[T]) EQ(v T) *Criterion { return NewCriterion(string(f), v, EQ) }

// NEQ returns a criterion matching rows where the column differs from v.
func (f Column[T]) NEQ(v T) *Criterion { return NewCriterion(string(f), v, NEQ) }

// GT returns a criterion matching rows where the column is greater than v.
func (f Column[T]) GT(v T) *Criterion { return NewCriterion(string(f), v, GT) }

// GTE returns a criterion matching rows where the column is at least v.
func (f Column[T]) GTE(v T) *Criterion { return NewCriterion(string(f), v, GTE) }

// LT returns a criterion matching rows where the column is less than v.
func (f Column[T]) LT(v T) *Criterion { return NewCriterion(string(f), v, LT) }

// LTE returns a criterion matching rows where the column is at most v.
func (f Column[T]) LTE(v T) *Criterion { return NewCriterion(string(f), v, LTE) }

// In returns a criterion matching rows where the column is one of vs.
func (f Column[T]) In(vs ...T) *Criterion { return NewCriterion(string(f), vs, In) }

// NotIn returns a criterion matching rows where the column is none of vs.
func (f Column[T]) NotIn(vs ...T) *Criterion { return NewCriterion(string(f), vs, NotIn) }

// IsNull returns a criterion matching rows where the column is NULL.
func (f Column[T]) IsNull() *Criterion { return NewCriterion(string(f), nil, IsNull) }

// NotNull returns a criterion matching rows where the column is not NULL.
func (f Column[T]) NotNull() *Criterion { return NewCriterion(string(f), nil, NotNull) }

// StringColumn is a text column with pattern matching criteria.
type StringColumn string

// Name returns the column reference.
func (f StringColumn) Name() string { return string(f) }

func (f StringColumn) typed() Column[string] { return Column[string](f) }

// EQ returns a criterion matching rows where the column equals v.
func (f StringColumn) EQ(v string) *Criterion { return f.typed().EQ(v) }

// NEQ returns a criterion matching rows where the column differs from v.
func (f StringColumn) NEQ(v string) *Criterion { return f.typed().NEQ(v) }

// In returns a criterion matching rows where the column is one of vs.
func (f StringColumn) In(vs ...string) *Criterion { return f.typed().In(vs...) }

// NotIn returns a criterion matching rows where the column is none of vs.
func (f StringColumn) NotIn(vs ...string) *Criterion { return f.typed().NotIn(vs...) }

// IsNull returns a criterion matching rows where the column is NULL.
func (f StringColumn) IsNull() *Criterion { return f.typed().IsNull() }

// NotNull returns a criterion matching rows where the column is not NULL.
func (f StringColumn) NotNull() *Criterion { return f.typed().NotNull() }

// Like returns a criterion matching the column against a LIKE pattern.
func (f StringColumn) Like(pattern string) *Criterion { return NewCriterion(string(f), pattern, Like) }

// Contains returns a criterion matching rows where the column contains v.
func (f StringColumn) Contains(v string) *Criterion { return f.Like("%" + escapeLike(v) + "%") }

// ContainsFold is the case-insensitive form of Contains.
func (f StringColumn) ContainsFold(v string) *Criterion {
	return NewCriterion(string(f), "%"+escapeLike(v)+"%", ILike)
}

// HasPrefix returns a criterion matching rows where the column starts with v.
func (f StringColumn) HasPrefix(v string) *Criterion { return f.Like(escapeLike(v) + "%") }

// HasSuffix returns a criterion matching rows where the column ends with v.
func (f StringColumn) HasSuffix(v string) *Criterion { return f.Like("%" + escapeLike(v)) }

// EqualFold returns a case-insensitive equality criterion.
func (f StringColumn) EqualFold(v string) *Criterion { return f.EQ(v).SetIgnoreCase(true) }

// escapeLike escapes the LIKE wildcards of a literal.
func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
