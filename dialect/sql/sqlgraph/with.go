package sqlgraph

import (
	"github.com/go-openapi/inflect"
)

// With describes an eagerly joined relation: which model occupies the next
// block of row columns and how the entity it produces is linked to an
// entity hydrated earlier in the same row.
type With struct {
	// Model is the registry name of the related entity.
	Model string
	// Relation names the relation. It defaults to the camelized model name,
	// pluralized for collections.
	Relation string
	// LeftName is the hydration chain entry the related entity attaches to.
	// It is ignored for primary relations.
	LeftName string
	// RightName is the chain entry under which the related entity is
	// recorded for later relations. It defaults to Relation.
	RightName string
	// IsPrimary is set when the relation starts at the primary entity.
	IsPrimary bool
	// IsCollection is set for one-to-many relations.
	IsCollection bool
	// Attach links related to owner. Within one Format call a collection
	// entity is attached to an owner once.
	Attach func(owner, related Hydrator)
	// Init resets the collection of owner to loaded and empty. It is called
	// once per Format call for every owner of a collection relation, before
	// the first entity is attached. It is required when the formatter uses
	// an instance pool, whose owners hold the collections of earlier calls.
	Init func(owner Hydrator)
}

// NewWith returns a primary relation to model with default names.
func NewWith(model string, collection bool, attach func(owner, related Hydrator)) *With {
	return (&With{
		Model:        model,
		IsPrimary:    true,
		IsCollection: collection,
		Attach:       attach,
	}).defaults()
}

// From makes w a secondary relation attached to the entity recorded under
// left in the hydration chain.
func (w *With) From(left string) *With {
	w.LeftName = left
	w.IsPrimary = false
	return w
}

// WithInit sets the empty collection hook.
func (w *With) WithInit(init func(owner Hydrator)) *With {
	w.Init = init
	return w
}

func (w *With) defaults() *With {
	if w.Relation == "" {
		w.Relation = inflect.Camelize(w.Model)
		if w.IsCollection {
			w.Relation = inflect.Pluralize(w.Relation)
		}
	}
	if w.RightName == "" {
		w.RightName = w.Relation
	}
	return w
}
