package nestedset

import (
	"context"
	"fmt"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect/sql"
)

func (t *Tree) left() sql.Column[int]  { return sql.Column[int](t.ref(t.def.Left)) }
func (t *Tree) right() sql.Column[int] { return sql.Column[int](t.ref(t.def.Right)) }
func (t *Tree) level() sql.Column[int] { return sql.Column[int](t.ref(t.def.Level)) }

// ordered sorts c by left boundary, ascending or descending.
func (t *Tree) ordered(c *sql.Criteria, desc bool) *sql.Criteria {
	if desc {
		return c.AddDescendingOrderByColumn(t.ref(t.def.Left))
	}
	return c.AddAscendingOrderByColumn(t.ref(t.def.Left))
}

// must returns the single node matched by c, or a NotFoundError.
func (t *Tree) must(ctx context.Context, c *sql.Criteria, label string) (*Node, error) {
	n, err := t.one(ctx, t.drv, c)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, orbit.NewNotFoundError(label)
	}
	return n, nil
}

// count returns the number of rows matched by c.
func (t *Tree) count(ctx context.Context, c *sql.Criteria) (int, error) {
	stmt, err := c.BuildCount(t.adapter)
	if err != nil {
		return 0, err
	}
	rows, err := sql.QueryStatement(ctx, t.drv, stmt)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("nestedset: count %s: no rows", t.def.Table)
	}
	var n int
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Close()
}

// All returns every node of scope in left order.
func (t *Tree) All(ctx context.Context, scope int64) ([]*Node, error) {
	return t.nodes(ctx, t.drv, t.ordered(t.criteria(scope), false))
}

// Root returns the root of scope.
func (t *Tree) Root(ctx context.Context, scope int64) (*Node, error) {
	return t.must(ctx, t.criteria(scope).AddCriterion(t.left().EQ(1)), "root")
}

// Get returns the node with the given id.
func (t *Tree) Get(ctx context.Context, id int64) (*Node, error) {
	n, err := t.one(ctx, t.drv, t.base().AddCriterion(sql.Column[int64](t.ref(t.def.ID)).EQ(id)))
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, orbit.NewNotFoundErrorWithID("node", id)
	}
	return n, nil
}

// Parent returns the parent of n.
func (t *Tree) Parent(ctx context.Context, n TreeNode) (*Node, error) {
	nn := n.TreeNode()
	c := t.criteria(nn.Scope).
		AddCriterion(t.left().LT(nn.Left)).
		AddCriterion(t.right().GT(nn.Right))
	return t.must(ctx, t.ordered(c, true), "parent")
}

// FirstChild returns the first child of n.
func (t *Tree) FirstChild(ctx context.Context, n TreeNode) (*Node, error) {
	nn := n.TreeNode()
	if nn.IsLeaf() {
		return nil, orbit.NewNotFoundError("first child")
	}
	return t.must(ctx, t.criteria(nn.Scope).AddCriterion(t.left().EQ(nn.Left+1)), "first child")
}

// LastChild returns the last child of n.
func (t *Tree) LastChild(ctx context.Context, n TreeNode) (*Node, error) {
	nn := n.TreeNode()
	if nn.IsLeaf() {
		return nil, orbit.NewNotFoundError("last child")
	}
	return t.must(ctx, t.criteria(nn.Scope).AddCriterion(t.right().EQ(nn.Right-1)), "last child")
}

// PrevSibling returns the sibling right before n.
func (t *Tree) PrevSibling(ctx context.Context, n TreeNode) (*Node, error) {
	nn := n.TreeNode()
	return t.must(ctx, t.criteria(nn.Scope).AddCriterion(t.right().EQ(nn.Left-1)), "previous sibling")
}

// NextSibling returns the sibling right after n.
func (t *Tree) NextSibling(ctx context.Context, n TreeNode) (*Node, error) {
	nn := n.TreeNode()
	return t.must(ctx, t.criteria(nn.Scope).AddCriterion(t.left().EQ(nn.Right+1)), "next sibling")
}

func (t *Tree) children(n *Node) *sql.Criteria {
	return t.criteria(n.Scope).
		AddCriterion(t.left().GT(n.Left)).
		AddCriterion(t.right().LT(n.Right)).
		AddCriterion(t.level().EQ(n.Level + 1))
}

func (t *Tree) descendants(n *Node) *sql.Criteria {
	return t.criteria(n.Scope).
		AddCriterion(t.left().GT(n.Left)).
		AddCriterion(t.right().LT(n.Right))
}

func (t *Tree) ancestors(n *Node) *sql.Criteria {
	return t.criteria(n.Scope).
		AddCriterion(t.left().LT(n.Left)).
		AddCriterion(t.right().GT(n.Right))
}

// Children returns the children of n in order.
func (t *Tree) Children(ctx context.Context, n TreeNode) ([]*Node, error) {
	return t.nodes(ctx, t.drv, t.ordered(t.children(n.TreeNode()), false))
}

// Descendants returns the subtree below n in depth-first order.
func (t *Tree) Descendants(ctx context.Context, n TreeNode) ([]*Node, error) {
	return t.nodes(ctx, t.drv, t.ordered(t.descendants(n.TreeNode()), false))
}

// Ancestors returns the ancestors of n, root first.
func (t *Tree) Ancestors(ctx context.Context, n TreeNode) ([]*Node, error) {
	return t.nodes(ctx, t.drv, t.ordered(t.ancestors(n.TreeNode()), false))
}

// Path returns the nodes from the root down to n, inclusive.
func (t *Tree) Path(ctx context.Context, n TreeNode) ([]*Node, error) {
	nn := n.TreeNode()
	c := t.criteria(nn.Scope).
		AddCriterion(t.left().LTE(nn.Left)).
		AddCriterion(t.right().GTE(nn.Right))
	return t.nodes(ctx, t.drv, t.ordered(c, false))
}

// Level returns the number of ancestors of n, read from the table rather
// than from the level column.
func (t *Tree) Level(ctx context.Context, n TreeNode) (int, error) {
	return t.count(ctx, t.ancestors(n.TreeNode()))
}

// NumberOfChildren returns the number of children of n.
func (t *Tree) NumberOfChildren(ctx context.Context, n TreeNode) (int, error) {
	return t.count(ctx, t.children(n.TreeNode()))
}

// NumberOfDescendants returns the size of the subtree below n.
func (t *Tree) NumberOfDescendants(ctx context.Context, n TreeNode) (int, error) {
	return t.count(ctx, t.descendants(n.TreeNode()))
}
