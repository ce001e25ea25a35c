// Package sqlgraph hydrates entity graphs from flat result rows.
//
// Entities implement Hydrator and are described by a Model in a Registry.
// A query that eagerly joins related tables is described by With values in
// join order; the ObjectFormatter walks each row block by block, resolves
// every block to an entity (through an optional orbit.InstancePool) and
// links it to the entity it belongs to:
//
//	reg := sqlgraph.NewRegistry()
//	sqlgraph.Register[Book](reg, "book", 3, nil)
//	sqlgraph.Register[Review](reg, "review", 2, nil)
//	f, err := sqlgraph.NewFormatter(reg, "book",
//		sqlgraph.WithRelations(sqlgraph.NewWith("review", true, func(o, r sqlgraph.Hydrator) {
//			o.(*Book).Reviews = append(o.(*Book).Reviews, r.(*Review))
//		})),
//	)
//	books, err := sqlgraph.Find(ctx, drv, drv.Adapter(), criteria, f)
//
// When a relation is a collection, rows repeating the same primary key are
// merged into one entity. Pooled entities outlive a Format call, so with an
// instance pool every collection relation needs an Init function resetting
// the collection before it is filled again.
package sqlgraph
