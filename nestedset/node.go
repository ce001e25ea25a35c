package nestedset

// Node is the position of a row in a nested set.
type Node struct {
	ID    int64
	Left  int
	Right int
	Level int
	Scope int64
}

// TreeNode is implemented by entities stored in a nested set. Embedding
// Node implements it.
type TreeNode interface {
	TreeNode() *Node
}

// Fielder is implemented by entities that write extra columns when they
// are inserted into a tree.
type Fielder interface {
	TreeFields() map[string]any
}

// TreeNode implements TreeNode.
func (n *Node) TreeNode() *Node { return n }

// InTree reports whether the node holds a position in a tree.
func (n *Node) InTree() bool { return n.Left > 0 && n.Right > n.Left }

// IsRoot reports whether the node is the root of its tree.
func (n *Node) IsRoot() bool { return n.InTree() && n.Left == 1 }

// IsLeaf reports whether the node has no descendants.
func (n *Node) IsLeaf() bool { return n.InTree() && n.Right-n.Left == 1 }

// IsDescendantOf reports whether n is strictly inside the subtree of o.
func (n *Node) IsDescendantOf(o *Node) bool {
	return n.InTree() && n.Scope == o.Scope && n.Left > o.Left && n.Right < o.Right
}

// IsAncestorOf reports whether o is strictly inside the subtree of n.
func (n *Node) IsAncestorOf(o *Node) bool { return o.IsDescendantOf(n) }

// NumberOfDescendants returns the size of the subtree below n, computed
// from its boundaries.
func (n *Node) NumberOfDescendants() int {
	if !n.InTree() {
		return 0
	}
	return (n.Right - n.Left - 1) / 2
}

// width returns the number of numbering slots the subtree of n occupies.
func (n *Node) width() int { return n.Right - n.Left + 1 }

// contains reports whether v lies within the boundaries of n.
func (n *Node) contains(v int) bool { return v >= n.Left && v <= n.Right }
