package sqlgraph

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/syssam/orbit"
)

// Hydrator is implemented by entities that can be materialized from a
// result row.
type Hydrator interface {
	// Hydrate reads the entity columns from row starting at col and returns
	// the index of the first column it did not consume.
	Hydrate(row []any, col int) (int, error)
	// PrimaryKey returns the primary key of a hydrated entity. A nil key
	// means the entity is empty, such as the missing side of an outer join.
	PrimaryKey() any
}

// VirtualColumnSetter is implemented by entities that accept computed
// (AS) columns of a query.
type VirtualColumnSetter interface {
	SetVirtualColumn(name string, value any)
}

// Model describes how one entity type occupies a row.
type Model struct {
	// Name identifies the model in the registry and the instance pool.
	Name string
	// Columns is the number of row columns the entity occupies.
	Columns int
	// New returns a new, empty entity.
	New func() Hydrator
	// Key extracts the primary key from row at col without hydrating the
	// entity. It returns nil when every key column is NULL. When Key is
	// nil the entity is hydrated first and asked for its key.
	Key func(row []any, col int) any
}

func (m *Model) validate() error {
	switch {
	case m.Name == "":
		return orbit.NewConfigError("sqlgraph", "model name is required")
	case m.Columns <= 0:
		return orbit.NewConfigError("sqlgraph", "model %s must occupy at least one column", m.Name)
	case m.New == nil:
		return orbit.NewConfigError("sqlgraph", "model %s has no constructor", m.Name)
	}
	return nil
}

// Registry resolves models by name and by entity type.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Model
	byType map[reflect.Type]*Model
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Model),
		byType: make(map[reflect.Type]*Model),
	}
}

// Register adds m to the registry. Registering a second model under an
// existing name is an error.
func (r *Registry) Register(m *Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	t := reflect.TypeOf(m.New())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.Name]; ok {
		return orbit.NewConfigError("sqlgraph", "model %s is already registered", m.Name)
	}
	r.byName[m.Name] = m
	r.byType[t] = m
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(m *Model) *Registry {
	if err := r.Register(m); err != nil {
		panic(err)
	}
	return r
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return nil, orbit.NewConfigError("sqlgraph", "unknown model %q", name)
	}
	return m, nil
}

// ModelOf returns the model registered for the dynamic type of v.
func (r *Registry) ModelOf(v Hydrator) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byType[reflect.TypeOf(v)]
	if !ok {
		return nil, orbit.NewConfigError("sqlgraph", "no model registered for %T", v)
	}
	return m, nil
}

// Register creates and registers a model for the entity type P, a pointer
// to T.
//
//	sqlgraph.Register[Book](reg, "book", 3, nil)
func Register[T any, P interface {
	*T
	Hydrator
}](r *Registry, name string, columns int, key func(row []any, col int) any) (*Model, error) {
	m := &Model{
		Name:    name,
		Columns: columns,
		New:     func() Hydrator { return P(new(T)) },
		Key:     key,
	}
	if err := r.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Entities converts hydrated entities to their concrete type.
func Entities[T Hydrator](hs []Hydrator) ([]T, error) {
	out := make([]T, 0, len(hs))
	for _, h := range hs {
		v, ok := h.(T)
		if !ok {
			return nil, fmt.Errorf("sqlgraph: unexpected entity type %T", h)
		}
		out = append(out, v)
	}
	return out, nil
}
