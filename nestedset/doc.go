// Package nestedset stores trees in a table using nested-set numbering.
//
// Every node holds a left and a right boundary and a level. The subtree of
// a node is the set of rows whose left boundary lies between the node's
// boundaries, so subtree, ancestor and path reads are single range queries.
// Structural changes renumber a contiguous range of rows:
//
//	tree, err := nestedset.New(drv, nestedset.Definition{Table: "category", Scope: "tree_id"})
//	root := &Category{Node: nestedset.Node{Scope: 1}, Name: "root"}
//	err = tree.CreateRoot(ctx, root)
//	err = tree.InsertAsLastChildOf(ctx, &Category{Name: "books"}, root)
//
// Each mutation runs in one transaction. The rows of the scope are locked
// with the dialect lock clause and re-read before any boundary is
// computed, so concurrent mutations of one scope are serialized. Every
// shift is a single UPDATE applying one delta to all affected rows. After
// commit, the nodes passed to the operation are refreshed from the table.
//
// Roots have level 0 and left boundary 1. A scope column partitions the
// table into independent trees; operations never cross scopes.
package nestedset
