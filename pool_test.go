package orbit_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
)

type author struct {
	ID   int64
	Name string
}

func TestMemoryPool(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		p := orbit.NewMemoryPool()
		a := &author{ID: 1, Name: "Victor Hugo"}
		p.Add("author", int64(1), a)

		got, ok := p.Get("author", int64(1))
		require.True(t, ok)
		assert.Same(t, a, got)

		_, ok = p.Get("book", int64(1))
		assert.False(t, ok, "keys are scoped by model")
		_, ok = p.Get("author", 1)
		assert.False(t, ok, "int and int64 keys differ")
	})

	t.Run("remove_and_clear", func(t *testing.T) {
		p := orbit.NewMemoryPool()
		p.Add("author", int64(1), &author{ID: 1})
		p.Add("author", int64(2), &author{ID: 2})
		p.Add("book", int64(1), struct{}{})
		assert.Equal(t, 3, p.Len())

		p.Remove("author", int64(1))
		assert.Equal(t, 2, p.Len())

		p.Clear("author")
		assert.Equal(t, 1, p.Len())
		p.Clear()
		assert.Equal(t, 0, p.Len())
	})

	t.Run("non_comparable_keys", func(t *testing.T) {
		p := orbit.NewMemoryPool()
		p.Add("author", []byte("1"), &author{})
		p.Add("author", nil, &author{})
		assert.Equal(t, 0, p.Len())
		_, ok := p.Get("author", []byte("1"))
		assert.False(t, ok)

		composite := [2]any{int64(1), []byte("b")}
		p.Add("author", composite, &author{})
		assert.Equal(t, 0, p.Len())
		_, ok = p.Get("author", composite)
		assert.False(t, ok)
		p.Remove("author", composite)
	})

	t.Run("disabled", func(t *testing.T) {
		p := orbit.NewMemoryPool()
		p.Add("author", int64(1), &author{ID: 1})
		prev := p.SetEnabled(false)
		assert.True(t, prev)
		assert.False(t, p.Enabled())

		_, ok := p.Get("author", int64(1))
		assert.False(t, ok)
		p.Add("author", int64(2), &author{ID: 2})
		assert.Equal(t, 1, p.Len())

		p.SetEnabled(prev)
		_, ok = p.Get("author", int64(1))
		assert.True(t, ok)
	})

	t.Run("concurrent", func(t *testing.T) {
		p := orbit.NewMemoryPool()
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Add("author", int64(i), &author{ID: int64(i)})
				p.Get("author", int64(i))
			}()
		}
		wg.Wait()
		assert.Equal(t, 16, p.Len())
	})
}
