package nestedset

import (
	"context"
	"sort"

	"github.com/syssam/orbit"
)

// Verify checks the invariants of scope. See Check.
func (t *Tree) Verify(ctx context.Context, scope int64) error {
	nodes, err := t.All(ctx, scope)
	if err != nil {
		return err
	}
	return Check(nodes)
}

// Check reports the first violated invariant of the nodes of one scope:
// every node has left < right, the boundaries are exactly 1..2n, there is
// one root, subtrees nest properly and every level equals the number of
// ancestors (the root is level 0).
func Check(nodes []*Node) error {
	const op = "verify"
	if len(nodes) == 0 {
		return nil
	}
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Left < sorted[j].Left })

	seen := make([]bool, 2*len(sorted)+1)
	mark := func(n *Node, v int) error {
		if v < 1 || v >= len(seen) {
			return orbit.NewIntegrityError(op, "node %d has boundary %d outside 1..%d", n.ID, v, len(seen)-1)
		}
		if seen[v] {
			return orbit.NewIntegrityError(op, "boundary %d is used twice (node %d)", v, n.ID)
		}
		seen[v] = true
		return nil
	}
	var stack []*Node
	for i, n := range sorted {
		if n.Left >= n.Right {
			return orbit.NewIntegrityError(op, "node %d has left %d >= right %d", n.ID, n.Left, n.Right)
		}
		if err := mark(n, n.Left); err != nil {
			return err
		}
		if err := mark(n, n.Right); err != nil {
			return err
		}
		for len(stack) > 0 && stack[len(stack)-1].Right < n.Left {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 && i > 0 {
			return orbit.NewIntegrityError(op, "node %d is a second root", n.ID)
		}
		if len(stack) > 0 && n.Right > stack[len(stack)-1].Right {
			return orbit.NewIntegrityError(op, "node %d overlaps node %d", n.ID, stack[len(stack)-1].ID)
		}
		if n.Level != len(stack) {
			return orbit.NewIntegrityError(op, "node %d has level %d, expected %d", n.ID, n.Level, len(stack))
		}
		stack = append(stack, n)
	}
	return nil
}
