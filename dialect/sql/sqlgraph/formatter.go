package sqlgraph

import (
	"context"
	"fmt"
	"reflect"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect/sql"
)

// ObjectFormatter converts result rows into entities. The primary entity
// occupies the first columns of every row, followed by one block per
// relation and one column per virtual column.
type ObjectFormatter struct {
	primary   *Model
	with      []*With
	models    []*Model // resolved models of with, same order
	asColumns []string
	limited   bool
	pool      orbit.InstancePool
}

// FormatterOption configures an ObjectFormatter.
type FormatterOption func(*ObjectFormatter)

// WithRelations appends eagerly joined relations, in join declaration order.
func WithRelations(with ...*With) FormatterOption {
	return func(f *ObjectFormatter) {
		f.with = append(f.with, with...)
	}
}

// WithAsColumns sets the virtual columns that trail every row.
func WithAsColumns(names ...string) FormatterOption {
	return func(f *ObjectFormatter) {
		f.asColumns = append(f.asColumns, names...)
	}
}

// WithLimit reports that the query is row limited.
func WithLimit(limited bool) FormatterOption {
	return func(f *ObjectFormatter) {
		f.limited = limited
	}
}

// WithPool sets the instance pool consulted during hydration.
func WithPool(p orbit.InstancePool) FormatterOption {
	return func(f *ObjectFormatter) {
		f.pool = p
	}
}

// NewFormatter returns a formatter for the model registered under primary.
func NewFormatter(r *Registry, primary string, opts ...FormatterOption) (*ObjectFormatter, error) {
	f := &ObjectFormatter{}
	for _, opt := range opts {
		opt(f)
	}
	m, err := r.Model(primary)
	if err != nil {
		return nil, err
	}
	f.primary = m
	for _, w := range f.with {
		w.defaults()
		wm, err := r.Model(w.Model)
		if err != nil {
			return nil, err
		}
		if w.Attach == nil {
			return nil, orbit.NewConfigError("sqlgraph", "relation %s has no attach function", w.Relation)
		}
		if w.IsCollection && w.Init == nil && f.pool != nil {
			return nil, orbit.NewConfigError("sqlgraph", "relation %s needs an init function to be hydrated with an instance pool", w.Relation)
		}
		f.models = append(f.models, wm)
	}
	return f, nil
}

// Columns returns the number of columns a row must have.
func (f *ObjectFormatter) Columns() int {
	n := f.primary.Columns + len(f.asColumns)
	for _, m := range f.models {
		n += m.Columns
	}
	return n
}

// WithOneToMany reports whether any relation is a collection.
func (f *ObjectFormatter) WithOneToMany() bool {
	for _, w := range f.with {
		if w.IsCollection {
			return true
		}
	}
	return false
}

func (f *ObjectFormatter) check() error {
	if f.limited && f.WithOneToMany() {
		return orbit.NewConfigError("format", "cannot use limit with a one-to-many relation; remove the relation or the limit")
	}
	return nil
}

// Format hydrates every row of rows and closes it. With one-to-many
// relations, one entity is returned per distinct primary key with its
// collections populated from all rows.
func (f *ObjectFormatter) Format(rows sql.ColumnScanner) ([]Hydrator, error) {
	defer rows.Close()
	if err := f.check(); err != nil {
		return nil, err
	}
	h := f.hydration()
	var out []Hydrator
	if !f.WithOneToMany() {
		err := f.scan(rows, func(row []any) error {
			obj, err := h.row(row, nil)
			if err != nil {
				return err
			}
			out = append(out, obj)
			return nil
		})
		return out, err
	}
	byKey := make(map[any]Hydrator)
	err := f.scan(rows, func(row []any) error {
		key, err := f.rowKey(row)
		if err != nil {
			return err
		}
		main, seen := byKey[key]
		obj, err := h.row(row, main)
		if err != nil {
			return err
		}
		if !seen {
			byKey[key] = obj
			out = append(out, obj)
		}
		return nil
	})
	return out, err
}

// FormatOne hydrates rows into a single primary entity, merging the
// relations of every row into it. It returns a NotFoundError when rows is
// empty.
func (f *ObjectFormatter) FormatOne(rows sql.ColumnScanner) (Hydrator, error) {
	defer rows.Close()
	h := f.hydration()
	var result Hydrator
	err := f.scan(rows, func(row []any) error {
		obj, err := h.row(row, result)
		if err != nil {
			return err
		}
		result = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, orbit.NewNotFoundError(f.primary.Name)
	}
	return result, nil
}

func (f *ObjectFormatter) scan(rows sql.ColumnScanner, fn func([]any) error) error {
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if want := f.Columns(); len(columns) < want {
		return fmt.Errorf("sqlgraph: mismatch number of columns: %d < %d", len(columns), want)
	}
	for rows.Next() {
		row := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// rowKey returns the primary key of the row's primary entity.
func (f *ObjectFormatter) rowKey(row []any) (any, error) {
	if f.primary.Key != nil {
		return keyOf(f.primary.Key(row, 0)), nil
	}
	obj := f.primary.New()
	if _, err := obj.Hydrate(row, 0); err != nil {
		return nil, err
	}
	return keyOf(obj.PrimaryKey()), nil
}

// keyOf makes a key usable as a map key. Values that cannot be compared,
// such as the []byte database/sql scans text into, are converted: byte
// slices to strings, arrays element by element, anything else to its
// printed form.
func keyOf(k any) any {
	if k == nil {
		return nil
	}
	v := reflect.ValueOf(k)
	if v.Comparable() {
		return k
	}
	switch {
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		return string(v.Bytes())
	case v.Kind() == reflect.Array:
		arr := reflect.New(reflect.ArrayOf(v.Len(), anyType)).Elem()
		for i := range v.Len() {
			if e := keyOf(v.Index(i).Interface()); e != nil {
				arr.Index(i).Set(reflect.ValueOf(e))
			}
		}
		return arr.Interface()
	}
	return fmt.Sprint(k)
}

var anyType = reflect.TypeFor[any]()

// hydration holds the state of one Format call.
type hydration struct {
	*ObjectFormatter
	// entities maps the entities materialized by this call. It is only
	// kept with one-to-many relations, where a row repeats entities that
	// earlier rows already linked.
	entities map[entityKey]Hydrator
	// attached records collection links already made, so that repeated
	// fan-out rows do not attach the same entity twice.
	attached map[link]struct{}
	// opened records the collections initialized by this call.
	opened map[collection]struct{}
}

type entityKey struct {
	model string
	key   any
}

type collection struct {
	owner    Hydrator
	relation string
}

type link struct {
	collection
	key any
}

func (f *ObjectFormatter) hydration() *hydration {
	h := &hydration{
		ObjectFormatter: f,
		attached:        make(map[link]struct{}),
		opened:          make(map[collection]struct{}),
	}
	if f.WithOneToMany() {
		h.entities = make(map[entityKey]Hydrator)
	}
	return h
}

// row hydrates the primary entity and every relation of row. When main is
// not nil, relations attach to it instead of the entity read from row.
func (h *hydration) row(row []any, main Hydrator) (Hydrator, error) {
	obj, col, err := h.populate(h.primary, row, 0)
	if err != nil {
		return nil, err
	}
	if main != nil {
		obj = main
	}
	if obj == nil {
		return nil, fmt.Errorf("sqlgraph: %s row has a NULL primary key", h.primary.Name)
	}
	chain := make(map[string]Hydrator, len(h.with))
	for i, w := range h.with {
		var end Hydrator
		end, col, err = h.populate(h.models[i], row, col)
		if err != nil {
			return nil, err
		}
		var start Hydrator
		switch {
		case w.IsPrimary:
			start = obj
		default:
			s, ok := chain[w.LeftName]
			if !ok {
				// The owning relation was not linked on this row.
				continue
			}
			start = s
		}
		if w.IsCollection {
			h.open(w, start)
		}
		if end == nil {
			continue
		}
		chain[w.RightName] = end
		if w.IsCollection {
			l := link{collection: collection{owner: start, relation: w.Relation}, key: keyOf(end.PrimaryKey())}
			if _, ok := h.attached[l]; ok {
				continue
			}
			h.attached[l] = struct{}{}
		}
		w.Attach(start, end)
	}
	if len(h.asColumns) > 0 {
		vs, ok := obj.(VirtualColumnSetter)
		for _, name := range h.asColumns {
			if ok {
				vs.SetVirtualColumn(name, row[col])
			}
			col++
		}
	}
	return obj, nil
}

// open initializes the collection w of owner the first time this call
// reaches it. A pooled owner still holds the collection of an earlier
// call, which Init resets.
func (h *hydration) open(w *With, owner Hydrator) {
	c := collection{owner: owner, relation: w.Relation}
	if _, ok := h.opened[c]; ok {
		return
	}
	h.opened[c] = struct{}{}
	if w.Init != nil {
		w.Init(owner)
	}
}

// populate returns the entity of m at col and the index of the next
// block. A nil entity means every key column is NULL.
func (h *hydration) populate(m *Model, row []any, col int) (Hydrator, int, error) {
	next := col + m.Columns
	var key any
	if m.Key != nil {
		if key = keyOf(m.Key(row, col)); key == nil {
			return nil, next, nil
		}
		if obj, ok := h.lookup(m, key); ok {
			return obj, next, nil
		}
	}
	obj := m.New()
	if _, err := obj.Hydrate(row, col); err != nil {
		return nil, next, fmt.Errorf("sqlgraph: hydrate %s: %w", m.Name, err)
	}
	if key == nil {
		if key = keyOf(obj.PrimaryKey()); key == nil {
			return nil, next, nil
		}
		if found, ok := h.lookup(m, key); ok {
			return found, next, nil
		}
	}
	h.remember(m, key, obj)
	if h.pool != nil {
		h.pool.Add(m.Name, key, obj)
	}
	return obj, next, nil
}

// lookup returns the entity of m with key that this call or the pool
// already holds.
func (h *hydration) lookup(m *Model, key any) (Hydrator, bool) {
	if obj, ok := h.entities[entityKey{model: m.Name, key: key}]; ok {
		return obj, true
	}
	if h.pool == nil {
		return nil, false
	}
	pooled, ok := h.pool.Get(m.Name, key)
	if !ok {
		return nil, false
	}
	obj := pooled.(Hydrator)
	h.remember(m, key, obj)
	return obj, true
}

func (h *hydration) remember(m *Model, key any, obj Hydrator) {
	if h.entities != nil {
		h.entities[entityKey{model: m.Name, key: key}] = obj
	}
}

// Find assembles c for adapter a, runs it on q and formats the result. The
// criteria limit is reported to the formatter before the query runs.
func Find(ctx context.Context, q sql.Querier, a sql.Adapter, c *sql.Criteria, f *ObjectFormatter) ([]Hydrator, error) {
	lf := *f
	lf.limited = lf.limited || c.Limit() > 0
	if err := lf.check(); err != nil {
		return nil, err
	}
	stmt, err := c.Build(a)
	if err != nil {
		return nil, err
	}
	rows, err := sql.QueryStatement(ctx, q, stmt)
	if err != nil {
		return nil, err
	}
	return lf.Format(rows)
}
