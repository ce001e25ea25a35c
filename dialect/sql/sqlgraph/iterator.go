package sqlgraph

import (
	"fmt"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect/sql"
)

// OnDemandIterator hydrates one row at a time. Instance pooling is disabled
// while the iterator is open, so entities of earlier rows can be released.
type OnDemandIterator struct {
	f        *ObjectFormatter
	h        *hydration
	rows     sql.ColumnScanner
	columns  int
	current  Hydrator
	err      error
	restore  bool
	closed   bool
	position int
}

// Iterate returns an iterator over rows. Relations to collections cannot be
// iterated, since a single entity may span several rows.
func (f *ObjectFormatter) Iterate(rows sql.ColumnScanner) (*OnDemandIterator, error) {
	if f.WithOneToMany() {
		rows.Close()
		return nil, orbit.NewConfigError("iterate", "cannot iterate over a one-to-many relation; use Format instead")
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if want := f.Columns(); len(columns) < want {
		rows.Close()
		return nil, fmt.Errorf("sqlgraph: mismatch number of columns: %d < %d", len(columns), want)
	}
	it := &OnDemandIterator{f: f, h: f.hydration(), rows: rows, columns: len(columns), position: -1}
	if f.pool != nil {
		it.restore = f.pool.SetEnabled(false)
	}
	return it, nil
}

// Next hydrates the next row. It returns false when the rows are exhausted
// or an error occurred, in which case the iterator is closed.
func (it *OnDemandIterator) Next() bool {
	if it.closed {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		it.Close()
		return false
	}
	row := make([]any, it.columns)
	ptrs := make([]any, it.columns)
	for i := range row {
		ptrs[i] = &row[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = err
		it.Close()
		return false
	}
	obj, err := it.h.row(row, nil)
	if err != nil {
		it.err = err
		it.Close()
		return false
	}
	it.current = obj
	it.position++
	return true
}

// Entity returns the entity of the current row.
func (it *OnDemandIterator) Entity() Hydrator { return it.current }

// Position returns the zero-based index of the current row.
func (it *OnDemandIterator) Position() int { return it.position }

// Err returns the error that stopped the iteration, if any.
func (it *OnDemandIterator) Err() error { return it.err }

// Close closes the rows and restores the instance pool. It is safe to call
// more than once.
func (it *OnDemandIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.f.pool != nil {
		it.f.pool.SetEnabled(it.restore)
	}
	return it.rows.Close()
}
