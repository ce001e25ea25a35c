package nestedset

import (
	"context"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

// Operation names used in errors and logs.
const (
	OpCreateRoot        = "create_root"
	OpInsertFirstChild  = "insert_first_child"
	OpInsertLastChild   = "insert_last_child"
	OpInsertPrevSibling = "insert_prev_sibling"
	OpInsertNextSibling = "insert_next_sibling"
	OpInsertParent      = "insert_parent"
	OpMoveFirstChild    = "move_first_child"
	OpMoveLastChild     = "move_last_child"
	OpMovePrevSibling   = "move_prev_sibling"
	OpMoveNextSibling   = "move_next_sibling"
	OpDelete            = "delete"
	OpDeleteDescendants = "delete_descendants"
)

// position computes where a node goes relative to a locked destination:
// the left value it takes and its level.
type position func(op string, dest *Node) (left, level int, err error)

func firstChild(_ string, p *Node) (int, int, error) { return p.Left + 1, p.Level + 1, nil }

func lastChild(_ string, p *Node) (int, int, error) { return p.Right, p.Level + 1, nil }

func prevSibling(op string, d *Node) (int, int, error) {
	if d.IsRoot() {
		return 0, 0, orbit.NewIntegrityError(op, "the root cannot have siblings")
	}
	return d.Left, d.Level, nil
}

func nextSibling(op string, d *Node) (int, int, error) {
	if d.IsRoot() {
		return 0, 0, orbit.NewIntegrityError(op, "the root cannot have siblings")
	}
	return d.Right + 1, d.Level, nil
}

func fields(n TreeNode) map[string]any {
	if f, ok := n.(Fielder); ok {
		return f.TreeFields()
	}
	return nil
}

// CreateRoot inserts n as the root of its scope. The scope must be empty.
func (t *Tree) CreateRoot(ctx context.Context, n TreeNode) error {
	nn := n.TreeNode()
	if nn.InTree() {
		return orbit.NewMutationError(t.def.Table, OpCreateRoot, orbit.NewIntegrityError(OpCreateRoot, "node is already in a tree"))
	}
	pos := Node{ID: nn.ID, Left: 1, Right: 2, Level: 0, Scope: nn.Scope}
	err := t.mutate(ctx, OpCreateRoot, nn.Scope, nn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		if len(s.nodes) > 0 {
			return orbit.NewIntegrityError(OpCreateRoot, "scope %d already has a root", s.scope)
		}
		id, err := t.insert(ctx, tx, &pos, fields(n))
		pos.ID = id
		return err
	})
	if err != nil {
		return err
	}
	*nn = pos
	return nil
}

// InsertAsFirstChildOf inserts n as the first child of parent.
func (t *Tree) InsertAsFirstChildOf(ctx context.Context, n, parent TreeNode) error {
	return t.insertAt(ctx, OpInsertFirstChild, n, parent, firstChild)
}

// InsertAsLastChildOf inserts n as the last child of parent.
func (t *Tree) InsertAsLastChildOf(ctx context.Context, n, parent TreeNode) error {
	return t.insertAt(ctx, OpInsertLastChild, n, parent, lastChild)
}

// InsertAsPrevSiblingOf inserts n right before dest, which must not be
// the root.
func (t *Tree) InsertAsPrevSiblingOf(ctx context.Context, n, dest TreeNode) error {
	return t.insertAt(ctx, OpInsertPrevSibling, n, dest, prevSibling)
}

// InsertAsNextSiblingOf inserts n right after dest, which must not be the
// root.
func (t *Tree) InsertAsNextSiblingOf(ctx context.Context, n, dest TreeNode) error {
	return t.insertAt(ctx, OpInsertNextSibling, n, dest, nextSibling)
}

func (t *Tree) insertAt(ctx context.Context, op string, n, dest TreeNode, at position) error {
	nn, dn := n.TreeNode(), dest.TreeNode()
	if nn.InTree() {
		return orbit.NewMutationError(t.def.Table, op, orbit.NewIntegrityError(op, "node is already in a tree"))
	}
	pos := Node{ID: nn.ID, Scope: dn.Scope}
	err := t.mutate(ctx, op, dn.Scope, dn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		d, err := s.get(op, dn.ID)
		if err != nil {
			return err
		}
		left, level, err := at(op, d)
		if err != nil {
			return err
		}
		if err := t.shift(ctx, tx, s.scope, left, 2); err != nil {
			return err
		}
		pos.Left, pos.Right, pos.Level = left, left+1, level
		id, err := t.insert(ctx, tx, &pos, fields(n))
		pos.ID = id
		return err
	})
	if err != nil {
		return err
	}
	*nn = pos
	return t.Refresh(ctx, dest)
}

// InsertAsParentOf inserts n in place of child, which becomes the only
// child of n. When child is the root, n becomes the new root.
func (t *Tree) InsertAsParentOf(ctx context.Context, n, child TreeNode) error {
	nn, cn := n.TreeNode(), child.TreeNode()
	if nn.InTree() {
		return orbit.NewMutationError(t.def.Table, OpInsertParent, orbit.NewIntegrityError(OpInsertParent, "node is already in a tree"))
	}
	pos := Node{ID: nn.ID, Scope: cn.Scope}
	err := t.mutate(ctx, OpInsertParent, cn.Scope, cn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		c, err := s.get(OpInsertParent, cn.ID)
		if err != nil {
			return err
		}
		lft, rgt, lvl := t.ident(t.def.Left), t.ident(t.def.Right), t.ident(t.def.Level)
		values := sql.NewCriteria("").
			Add(t.ref(t.def.Level), sql.Expr("CASE WHEN "+lft+" BETWEEN ? AND ? THEN "+lvl+" + 1 ELSE "+lvl+" END", c.Left, c.Right), sql.CustomEqual).
			Add(t.ref(t.def.Right), sql.Expr("CASE WHEN "+rgt+" BETWEEN ? AND ? THEN "+rgt+" + 1 WHEN "+rgt+" > ? THEN "+rgt+" + 2 ELSE "+rgt+" END", c.Left, c.Right, c.Right), sql.CustomEqual).
			Add(t.ref(t.def.Left), sql.Expr("CASE WHEN "+lft+" BETWEEN ? AND ? THEN "+lft+" + 1 WHEN "+lft+" > ? THEN "+lft+" + 2 ELSE "+lft+" END", c.Left, c.Right, c.Right), sql.CustomEqual)
		where := t.where(s.scope).AddCriterion(sql.Column[int](t.ref(t.def.Right)).GTE(c.Left))
		stmt, err := where.BuildUpdate(values, t.adapter)
		if _, err := t.exec(ctx, tx, stmt, err); err != nil {
			return err
		}
		pos.Left, pos.Right, pos.Level = c.Left, c.Right+2, c.Level
		id, err := t.insert(ctx, tx, &pos, fields(n))
		pos.ID = id
		return err
	})
	if err != nil {
		return err
	}
	*nn = pos
	return t.Refresh(ctx, child)
}

// MoveToFirstChildOf moves the subtree of n under parent, as its first
// child.
func (t *Tree) MoveToFirstChildOf(ctx context.Context, n, parent TreeNode) error {
	return t.moveTo(ctx, OpMoveFirstChild, n, parent, firstChild, true)
}

// MoveToLastChildOf moves the subtree of n under parent, as its last
// child.
func (t *Tree) MoveToLastChildOf(ctx context.Context, n, parent TreeNode) error {
	return t.moveTo(ctx, OpMoveLastChild, n, parent, lastChild, true)
}

// MoveToPrevSiblingOf moves the subtree of n right before dest.
func (t *Tree) MoveToPrevSiblingOf(ctx context.Context, n, dest TreeNode) error {
	return t.moveTo(ctx, OpMovePrevSibling, n, dest, prevSibling, false)
}

// MoveToNextSiblingOf moves the subtree of n right after dest.
func (t *Tree) MoveToNextSiblingOf(ctx context.Context, n, dest TreeNode) error {
	return t.moveTo(ctx, OpMoveNextSibling, n, dest, nextSibling, false)
}

func (t *Tree) moveTo(ctx context.Context, op string, n, dest TreeNode, at position, child bool) error {
	nn, dn := n.TreeNode(), dest.TreeNode()
	if nn.Scope != dn.Scope {
		return orbit.NewMutationError(t.def.Table, op, orbit.NewIntegrityError(op, "cannot move a node from scope %d to scope %d", nn.Scope, dn.Scope))
	}
	err := t.mutate(ctx, op, nn.Scope, nn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		m, err := s.get(op, nn.ID)
		if err != nil {
			return err
		}
		d, err := s.get(op, dn.ID)
		if err != nil {
			return err
		}
		if m.contains(d.Left) && (child || d.ID != m.ID) {
			return orbit.NewIntegrityError(op, "cannot move node %d into its own subtree", m.ID)
		}
		left, level, err := at(op, d)
		if err != nil {
			return err
		}
		return t.moveSubtree(ctx, tx, s.scope, m, left, level-m.Level)
	})
	if err != nil {
		return err
	}
	return t.Refresh(ctx, n, dest)
}

// Delete removes n and its subtree and closes the gap they leave. It
// returns the number of deleted rows.
func (t *Tree) Delete(ctx context.Context, n TreeNode) (int64, error) {
	nn := n.TreeNode()
	var deleted int64
	err := t.mutate(ctx, OpDelete, nn.Scope, nn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		m, err := s.get(OpDelete, nn.ID)
		if err != nil {
			return err
		}
		if deleted, err = t.deleteRange(ctx, tx, s.scope, m.Left, m.Right); err != nil {
			return err
		}
		return t.shift(ctx, tx, s.scope, m.Right+1, -m.width())
	})
	if err != nil {
		return 0, err
	}
	nn.Left, nn.Right, nn.Level = 0, 0, 0
	return deleted, nil
}

// DeleteDescendants removes every descendant of n, which becomes a leaf.
// It returns the number of deleted rows.
func (t *Tree) DeleteDescendants(ctx context.Context, n TreeNode) (int64, error) {
	nn := n.TreeNode()
	var deleted int64
	err := t.mutate(ctx, OpDeleteDescendants, nn.Scope, nn.ID, func(ctx context.Context, tx dialect.Tx, s *snapshot) error {
		m, err := s.get(OpDeleteDescendants, nn.ID)
		if err != nil {
			return err
		}
		if m.IsLeaf() {
			return nil
		}
		if deleted, err = t.deleteRange(ctx, tx, s.scope, m.Left+1, m.Right-1); err != nil {
			return err
		}
		return t.shift(ctx, tx, s.scope, m.Right, -(m.Right - m.Left - 1))
	})
	if err != nil {
		return 0, err
	}
	return deleted, t.Refresh(ctx, n)
}

// shift adds delta to every boundary at or after from, in one statement.
func (t *Tree) shift(ctx context.Context, tx dialect.Tx, scope int64, from, delta int) error {
	lft, rgt := t.ident(t.def.Left), t.ident(t.def.Right)
	values := sql.NewCriteria("").
		Add(t.ref(t.def.Right), sql.Expr(rgt+" + ?", delta), sql.CustomEqual).
		Add(t.ref(t.def.Left), sql.Expr("CASE WHEN "+lft+" >= ? THEN "+lft+" + ? ELSE "+lft+" END", from, delta), sql.CustomEqual)
	where := t.where(scope).AddCriterion(sql.Column[int](t.ref(t.def.Right)).GTE(from))
	stmt, err := where.BuildUpdate(values, t.adapter)
	_, err = t.exec(ctx, tx, stmt, err)
	return err
}

// moveSubtree moves the subtree of n so that its left boundary lands at
// dest, a position in the numbering before the move, and adds levelDelta
// to the level of every node in it. Nodes between the old and the new
// place shift by the subtree width in the other direction.
func (t *Tree) moveSubtree(ctx context.Context, tx dialect.Tx, scope int64, n *Node, dest, levelDelta int) error {
	l, r, w := n.Left, n.Right, n.width()
	var (
		from, to     int // boundaries of the nodes moving the other way
		delta, other int
		lo, hi       int
	)
	switch {
	case dest > r+1:
		from, to, delta, other = r+1, dest-1, dest-r-1, -w
		lo, hi = l, dest-1
	case dest < l:
		from, to, delta, other = dest, l-1, dest-l, w
		lo, hi = dest, r
	default:
		from, to, lo, hi = 0, -1, l, r
	}
	if delta == 0 && levelDelta == 0 {
		return nil
	}
	lft, rgt, lvl := t.ident(t.def.Left), t.ident(t.def.Right), t.ident(t.def.Level)
	boundary := func(col string) sql.Expression {
		return sql.Expr("CASE WHEN "+col+" BETWEEN ? AND ? THEN "+col+" + ? WHEN "+col+" BETWEEN ? AND ? THEN "+col+" + ? ELSE "+col+" END",
			l, r, delta, from, to, other)
	}
	values := sql.NewCriteria("")
	if levelDelta != 0 {
		values.Add(t.ref(t.def.Level), sql.Expr("CASE WHEN "+lft+" BETWEEN ? AND ? THEN "+lvl+" + ? ELSE "+lvl+" END", l, r, levelDelta), sql.CustomEqual)
	}
	values.
		Add(t.ref(t.def.Right), boundary(rgt), sql.CustomEqual).
		Add(t.ref(t.def.Left), boundary(lft), sql.CustomEqual)
	where := t.where(scope).
		AddCriterion(sql.Column[int](t.ref(t.def.Right)).GTE(lo)).
		AddCriterion(sql.Column[int](t.ref(t.def.Left)).LTE(hi))
	stmt, err := where.BuildUpdate(values, t.adapter)
	_, err = t.exec(ctx, tx, stmt, err)
	return err
}

// deleteRange deletes the nodes whose left boundary lies in [from, to].
func (t *Tree) deleteRange(ctx context.Context, tx dialect.Tx, scope int64, from, to int) (int64, error) {
	left := sql.Column[int](t.ref(t.def.Left))
	c := t.where(scope).AddCriterion(left.GTE(from)).AddAnd(left.LTE(to))
	stmt, err := c.BuildDelete(t.adapter)
	return t.exec(ctx, tx, stmt, err)
}
