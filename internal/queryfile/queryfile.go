// Package queryfile reads query documents written in YAML and turns them
// into criteria.
//
// A document describes one SELECT:
//
//	database: bookstore
//	select: [book.id, book.title]
//	joins:
//	  - left: book.author_id
//	    right: author.id
//	    type: left
//	where:
//	  - column: book.price
//	    op: "<"
//	    value: 20
//	  - any:
//	      - {column: author.name, op: in, value: [Asimov, Herbert]}
//	      - {column: book.title, op: like, value: "Dune%"}
//	order_by: [-book.price]
//	limit: 5
package queryfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect/sql"
)

// Document is a query document.
type Document struct {
	Database   string            `yaml:"database,omitempty"`
	Comment    string            `yaml:"comment,omitempty"`
	Distinct   bool              `yaml:"distinct,omitempty"`
	Select     StringList        `yaml:"select,omitempty"`
	As         []AsColumn        `yaml:"as,omitempty"`
	From       string            `yaml:"from,omitempty"`
	Aliases    map[string]string `yaml:"aliases,omitempty"`
	Joins      []Join            `yaml:"joins,omitempty"`
	Where      []Condition       `yaml:"where,omitempty"`
	GroupBy    StringList        `yaml:"group_by,omitempty"`
	Having     *Condition        `yaml:"having,omitempty"`
	OrderBy    StringList        `yaml:"order_by,omitempty"`
	Limit      int               `yaml:"limit,omitempty"`
	Offset     int               `yaml:"offset,omitempty"`
	IgnoreCase bool              `yaml:"ignore_case,omitempty"`
	ForUpdate  bool              `yaml:"for_update,omitempty"`
}

// AsColumn is a select expression with an alias.
type AsColumn struct {
	Name   string `yaml:"name"`
	Clause string `yaml:"clause"`
}

// Join joins two tables on one or more column pairs.
type Join struct {
	Left  StringList `yaml:"left"`
	Right StringList `yaml:"right"`
	// Type is one of inner (the default), left or right.
	Type string `yaml:"type,omitempty"`
}

// Condition is either a comparison on a column, or a group of conditions
// combined with OR (Any) or AND (All).
type Condition struct {
	Column     string      `yaml:"column,omitempty"`
	Op         string      `yaml:"op,omitempty"`
	Value      any         `yaml:"value,omitempty"`
	IgnoreCase bool        `yaml:"ignore_case,omitempty"`
	Any        []Condition `yaml:"any,omitempty"`
	All        []Condition `yaml:"all,omitempty"`
}

// StringList is a YAML type that can be either a string or a list of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler for StringList.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", node.Kind)
	}
}

// Load reads the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var d Document
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, orbit.NewConfigError("queryfile", "empty document")
		}
		return nil, fmt.Errorf("parse query file: %w", err)
	}
	return &d, nil
}

var comparisons = map[string]sql.Comparison{
	"":            sql.EQ,
	"eq":          sql.EQ,
	"ne":          sql.NEQ,
	"neq":         sql.NEQ,
	"gt":          sql.GT,
	"gte":         sql.GTE,
	"lt":          sql.LT,
	"lte":         sql.LTE,
	"like":        sql.Like,
	"not like":    sql.NotLike,
	"ilike":       sql.ILike,
	"not ilike":   sql.NotILike,
	"in":          sql.In,
	"not in":      sql.NotIn,
	"null":        sql.IsNull,
	"is null":     sql.IsNull,
	"not null":    sql.NotNull,
	"is not null": sql.NotNull,
	"custom":      sql.Custom,
	"raw":         sql.Raw,
}

// comparison maps an operator name to its comparison. Symbols pass
// through unchanged, so unsupported ones fail at assembly.
func comparison(op string) sql.Comparison {
	op = strings.ToLower(strings.Join(strings.Fields(op), " "))
	if cmp, ok := comparisons[op]; ok {
		return cmp
	}
	return sql.Comparison(strings.ToUpper(op))
}

// Criterion returns the predicate of the condition.
func (c *Condition) Criterion() (*sql.Criterion, error) {
	switch {
	case c.Column != "" && (len(c.Any) > 0 || len(c.All) > 0):
		return nil, orbit.NewConfigError("queryfile", "condition on %s cannot also hold a group", c.Column)
	case len(c.Any) > 0 && len(c.All) > 0:
		return nil, orbit.NewConfigError("queryfile", "a condition group is either any or all")
	case len(c.Any) > 0:
		return group(c.Any, (*sql.Criterion).Or)
	case len(c.All) > 0:
		return group(c.All, (*sql.Criterion).And)
	case c.Column == "":
		return nil, orbit.NewConfigError("queryfile", "condition without a column")
	}
	cr := sql.NewCriterion(c.Column, c.Value, comparison(c.Op))
	if c.IgnoreCase {
		cr.SetIgnoreCase(true)
	}
	return cr, nil
}

func group(conds []Condition, combine func(*sql.Criterion, *sql.Criterion) *sql.Criterion) (*sql.Criterion, error) {
	var cr *sql.Criterion
	for i := range conds {
		next, err := conds[i].Criterion()
		if err != nil {
			return nil, err
		}
		if cr == nil {
			cr = next
			continue
		}
		cr = combine(cr, next)
	}
	return cr, nil
}

func joinType(s string) (sql.JoinType, error) {
	switch strings.ToLower(s) {
	case "", "inner":
		return sql.InnerJoin, nil
	case "left":
		return sql.LeftJoin, nil
	case "right":
		return sql.RightJoin, nil
	default:
		return "", orbit.NewConfigError("queryfile", "unknown join type %q", s)
	}
}

// Criteria returns the criteria described by the document.
func (d *Document) Criteria() (*sql.Criteria, error) {
	c := sql.NewCriteria(d.Database).
		SetComment(d.Comment).
		SetIgnoreCase(d.IgnoreCase).
		SetForUpdate(d.ForUpdate).
		SetLimit(d.Limit).
		SetOffset(d.Offset)
	if d.Distinct {
		c.SetDistinct()
	}
	if d.From != "" {
		c.SetPrimaryTableName(d.From)
	}
	for alias, table := range d.Aliases {
		c.AddAlias(alias, table)
	}
	if len(d.Select) > 0 {
		c.AddSelectColumn(d.Select...)
	}
	for _, as := range d.As {
		if as.Name == "" || as.Clause == "" {
			return nil, orbit.NewConfigError("queryfile", "as column needs a name and a clause")
		}
		c.AddAsColumn(as.Name, as.Clause)
	}
	for i, j := range d.Joins {
		jt, err := joinType(j.Type)
		if err != nil {
			return nil, err
		}
		if len(j.Left) == 0 || len(j.Left) != len(j.Right) {
			return nil, orbit.NewConfigError("queryfile", "join %d has %d left and %d right columns", i, len(j.Left), len(j.Right))
		}
		c.AddJoinObject(sql.NewCompositeJoin(j.Left, j.Right, jt))
	}
	for i := range d.Where {
		cr, err := d.Where[i].Criterion()
		if err != nil {
			return nil, err
		}
		c.AddAnd(cr)
	}
	if len(d.GroupBy) > 0 {
		c.AddGroupByColumn(d.GroupBy...)
	}
	if d.Having != nil {
		cr, err := d.Having.Criterion()
		if err != nil {
			return nil, err
		}
		c.AddHaving(cr)
	}
	for _, o := range d.OrderBy {
		if col, ok := strings.CutPrefix(o, "-"); ok {
			c.AddDescendingOrderByColumn(col)
			continue
		}
		c.AddAscendingOrderByColumn(o)
	}
	return c, nil
}
