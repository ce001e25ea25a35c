package orbit

import (
	"reflect"
	"sync"
)

// InstancePool is an identity map of materialized entities, keyed by model
// name and primary key. Hydration consults it so that a row describing an
// entity that is already in memory yields the same instance.
//
// Results must be correct whether or not a pool is used; the pool only
// avoids repeated materialization.
type InstancePool interface {
	// Get returns the pooled entity for the given model and key.
	Get(model string, key any) (any, bool)

	// Add stores an entity. Keys that are not comparable are ignored.
	Add(model string, key any, entity any)

	// Remove evicts a single entity.
	Remove(model string, key any)

	// Clear evicts every entity of the given models, or all entities when
	// no model is given.
	Clear(models ...string)

	// Enabled reports whether the pool currently serves and stores entities.
	Enabled() bool

	// SetEnabled toggles the pool and returns the previous state.
	SetEnabled(enabled bool) bool
}

type poolKey struct {
	model string
	key   any
}

// MemoryPool is an in-memory InstancePool safe for concurrent use.
type MemoryPool struct {
	mu       sync.RWMutex
	entities map[poolKey]any
	disabled bool
}

// NewMemoryPool returns an enabled, empty MemoryPool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{entities: make(map[poolKey]any)}
}

// Get implements InstancePool.
func (p *MemoryPool) Get(model string, key any) (any, bool) {
	if !hashable(key) {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.disabled {
		return nil, false
	}
	e, ok := p.entities[poolKey{model, key}]
	return e, ok
}

// Add implements InstancePool.
func (p *MemoryPool) Add(model string, key any, entity any) {
	if !hashable(key) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		return
	}
	p.entities[poolKey{model, key}] = entity
}

// Remove implements InstancePool.
func (p *MemoryPool) Remove(model string, key any) {
	if !hashable(key) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entities, poolKey{model, key})
}

// Clear implements InstancePool.
func (p *MemoryPool) Clear(models ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(models) == 0 {
		p.entities = make(map[poolKey]any)
		return
	}
	drop := make(map[string]struct{}, len(models))
	for _, m := range models {
		drop[m] = struct{}{}
	}
	for k := range p.entities {
		if _, ok := drop[k.model]; ok {
			delete(p.entities, k)
		}
	}
}

// Enabled implements InstancePool.
func (p *MemoryPool) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.disabled
}

// SetEnabled implements InstancePool.
func (p *MemoryPool) SetEnabled(enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := !p.disabled
	p.disabled = !enabled
	return prev
}

// Len returns the number of pooled entities.
func (p *MemoryPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entities)
}

func hashable(key any) bool {
	return key != nil && reflect.ValueOf(key).Comparable()
}

var _ InstancePool = (*MemoryPool)(nil)
