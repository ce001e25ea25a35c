package sqlgraph

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

type Book struct {
	ID            int64
	Title         string
	Author        *Author
	Reviews       []*Review
	ReviewsLoaded bool
	virtual       map[string]any
	valid         bool
}

func (b *Book) Hydrate(row []any, col int) (int, error) {
	id, ok, err := toInt64(row[col])
	if err != nil {
		return 0, err
	}
	b.ID, b.valid = id, ok
	b.Title, _ = row[col+1].(string)
	return col + 2, nil
}

func (b *Book) PrimaryKey() any {
	if !b.valid {
		return nil
	}
	return b.ID
}

func (b *Book) SetVirtualColumn(name string, value any) {
	if b.virtual == nil {
		b.virtual = make(map[string]any)
	}
	b.virtual[name] = value
}

func (b *Book) ReviewsOrErr() ([]*Review, error) {
	if b.ReviewsLoaded {
		return b.Reviews, nil
	}
	return nil, orbit.NewNotLoadedError("reviews")
}

type Author struct {
	ID   int64
	Name string
}

func (a *Author) Hydrate(row []any, col int) (int, error) {
	id, _, err := toInt64(row[col])
	if err != nil {
		return 0, err
	}
	a.ID = id
	a.Name, _ = row[col+1].(string)
	return col + 2, nil
}

func (a *Author) PrimaryKey() any { return a.ID }

type Review struct {
	ID       int64
	Body     string
	Author   *Author
	Comments []*Comment
}

func (r *Review) Hydrate(row []any, col int) (int, error) {
	id, _, err := toInt64(row[col])
	if err != nil {
		return 0, err
	}
	r.ID = id
	r.Body, _ = row[col+1].(string)
	return col + 2, nil
}

func (r *Review) PrimaryKey() any { return r.ID }

type Comment struct {
	ID   int64
	Body string
}

func (c *Comment) Hydrate(row []any, col int) (int, error) {
	id, _, err := toInt64(row[col])
	if err != nil {
		return 0, err
	}
	c.ID = id
	c.Body, _ = row[col+1].(string)
	return col + 2, nil
}

func (c *Comment) PrimaryKey() any { return c.ID }

func toInt64(v any) (int64, bool, error) {
	switch v := v.(type) {
	case nil:
		return 0, false, nil
	case int64:
		return v, true, nil
	case int:
		return int64(v), true, nil
	default:
		return 0, false, fmt.Errorf("unexpected type %T for id", v)
	}
}

// firstKey reads a single integer key column.
func firstKey(row []any, col int) any {
	return row[col]
}

func registry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	_, err := Register[Book](r, "book", 2, nil)
	require.NoError(t, err)
	_, err = Register[Author](r, "author", 2, firstKey)
	require.NoError(t, err)
	_, err = Register[Review](r, "review", 2, firstKey)
	require.NoError(t, err)
	_, err = Register[Comment](r, "comment", 2, firstKey)
	require.NoError(t, err)
	return r
}

func rowsOf(t *testing.T, rows *sqlmock.Rows) sql.ColumnScanner {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery("SELECT").WillReturnRows(rows)
	r, err := db.Query("SELECT")
	require.NoError(t, err)
	return r
}

func attachAuthor(o, r Hydrator) { o.(*Book).Author = r.(*Author) }

func attachReview(o, r Hydrator) { o.(*Book).Reviews = append(o.(*Book).Reviews, r.(*Review)) }

func initReviews(o Hydrator) {
	b := o.(*Book)
	b.Reviews, b.ReviewsLoaded = nil, true
}

func attachComment(o, c Hydrator) { o.(*Review).Comments = append(o.(*Review).Comments, c.(*Comment)) }

func initComments(o Hydrator) { o.(*Review).Comments = nil }

func bookAuthorRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"book.id", "book.title", "author.id", "author.name"}).
		AddRow(int64(1), "Dune", int64(10), "Frank").
		AddRow(int64(2), "Messiah", int64(10), "Frank").
		AddRow(int64(3), "Orphan", nil, nil)
}

func bookReviewRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body"}).
		AddRow(int64(1), "Dune", int64(100), "great").
		AddRow(int64(1), "Dune", int64(101), "long").
		AddRow(int64(2), "Messiah", nil, nil)
}

func TestFormat_Flat(t *testing.T) {
	r := registry(t)
	f, err := NewFormatter(r, "book")
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"book.id", "book.title"}).
		AddRow(int64(1), "Dune").
		AddRow(int64(2), "Messiah")
	hs, err := f.Format(rowsOf(t, rows))
	require.NoError(t, err)
	books, err := Entities[*Book](hs)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, int64(2), books[1].ID)
}

func TestFormat_ManyToOne(t *testing.T) {
	r := registry(t)
	t.Run("pooled", func(t *testing.T) {
		pool := orbit.NewMemoryPool()
		f, err := NewFormatter(r, "book",
			WithRelations(NewWith("author", false, attachAuthor)),
			WithPool(pool),
		)
		require.NoError(t, err)
		hs, err := f.Format(rowsOf(t, bookAuthorRows()))
		require.NoError(t, err)
		books, err := Entities[*Book](hs)
		require.NoError(t, err)
		require.Len(t, books, 3)
		require.NotNil(t, books[0].Author)
		assert.Same(t, books[0].Author, books[1].Author)
		assert.Nil(t, books[2].Author)
		assert.Equal(t, 4, pool.Len())

		// Hydrating the same rows again yields the same instances.
		again, err := f.Format(rowsOf(t, bookAuthorRows()))
		require.NoError(t, err)
		for i := range hs {
			assert.Same(t, hs[i], again[i])
		}
	})
	t.Run("unpooled", func(t *testing.T) {
		f, err := NewFormatter(r, "book", WithRelations(NewWith("author", false, attachAuthor)))
		require.NoError(t, err)
		hs, err := f.Format(rowsOf(t, bookAuthorRows()))
		require.NoError(t, err)
		books, err := Entities[*Book](hs)
		require.NoError(t, err)
		require.Len(t, books, 3)
		assert.NotSame(t, books[0].Author, books[1].Author)
		assert.Equal(t, books[0].Author, books[1].Author)

		again, err := f.Format(rowsOf(t, bookAuthorRows()))
		require.NoError(t, err)
		assert.NotSame(t, hs[0], again[0])
		assert.Equal(t, hs[0], again[0])
	})
}

func TestFormat_OneToMany(t *testing.T) {
	r := registry(t)
	for name, pool := range map[string]orbit.InstancePool{"pooled": orbit.NewMemoryPool(), "unpooled": nil} {
		t.Run(name, func(t *testing.T) {
			f, err := NewFormatter(r, "book",
				WithRelations(NewWith("review", true, attachReview).WithInit(initReviews)),
				WithPool(pool),
			)
			require.NoError(t, err)
			assert.True(t, f.WithOneToMany())
			hs, err := f.Format(rowsOf(t, bookReviewRows()))
			require.NoError(t, err)
			books, err := Entities[*Book](hs)
			require.NoError(t, err)
			require.Len(t, books, 2)
			require.Len(t, books[0].Reviews, 2)
			assert.Equal(t, int64(100), books[0].Reviews[0].ID)
			assert.Equal(t, int64(101), books[0].Reviews[1].ID)
			assert.True(t, books[0].ReviewsLoaded)
			assert.Empty(t, books[1].Reviews)
			assert.True(t, books[1].ReviewsLoaded)
			reviews, err := books[0].ReviewsOrErr()
			require.NoError(t, err)
			assert.Len(t, reviews, 2)
			reviews, err = books[1].ReviewsOrErr()
			require.NoError(t, err)
			assert.Empty(t, reviews)
			_, err = (&Book{}).ReviewsOrErr()
			assert.True(t, orbit.IsNotLoaded(err))
		})
	}
}

func TestFormat_NestedCollections(t *testing.T) {
	r := registry(t)
	for name, pool := range map[string]orbit.InstancePool{"pooled": orbit.NewMemoryPool(), "unpooled": nil} {
		t.Run(name, func(t *testing.T) {
			f, err := NewFormatter(r, "book",
				WithRelations(
					NewWith("review", true, attachReview).WithInit(initReviews),
					NewWith("comment", true, attachComment).WithInit(initComments).From("Reviews"),
				),
				WithPool(pool),
			)
			require.NoError(t, err)
			rows := sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body", "comment.id", "comment.body"}).
				AddRow(int64(1), "Dune", int64(10), "great", int64(100), "agreed").
				AddRow(int64(1), "Dune", int64(10), "great", int64(101), "not really")
			hs, err := f.Format(rowsOf(t, rows))
			require.NoError(t, err)
			require.Len(t, hs, 1)
			book := hs[0].(*Book)
			require.Len(t, book.Reviews, 1)
			review := book.Reviews[0]
			assert.Equal(t, int64(10), review.ID)
			require.Len(t, review.Comments, 2)
			assert.Equal(t, int64(100), review.Comments[0].ID)
			assert.Equal(t, int64(101), review.Comments[1].ID)
		})
	}
}

func TestFormat_PoolReuse(t *testing.T) {
	r := registry(t)
	pool := orbit.NewMemoryPool()
	f, err := NewFormatter(r, "book",
		WithRelations(NewWith("review", true, attachReview).WithInit(initReviews)),
		WithPool(pool),
	)
	require.NoError(t, err)
	first, err := f.Format(rowsOf(t, bookReviewRows()))
	require.NoError(t, err)
	second, err := f.Format(rowsOf(t, bookReviewRows()))
	require.NoError(t, err)
	require.Len(t, second, 2)
	for i := range first {
		assert.Same(t, first[i], second[i])
	}
	book := second[0].(*Book)
	require.Len(t, book.Reviews, 2)
	assert.Equal(t, int64(100), book.Reviews[0].ID)
	assert.Equal(t, int64(101), book.Reviews[1].ID)
	assert.Empty(t, second[1].(*Book).Reviews)
	assert.True(t, second[1].(*Book).ReviewsLoaded)
}

func TestFormat_CompositeByteKey(t *testing.T) {
	r := NewRegistry()
	_, err := Register[Book](r, "book", 2, func(row []any, col int) any { return [2]any{row[col], row[col+1]} })
	require.NoError(t, err)
	_, err = Register[Review](r, "review", 2, firstKey)
	require.NoError(t, err)
	f, err := NewFormatter(r, "book",
		WithRelations(NewWith("review", true, attachReview).WithInit(initReviews)),
		WithPool(orbit.NewMemoryPool()),
	)
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body"}).
		AddRow(int64(1), []byte("Dune"), int64(100), "great").
		AddRow(int64(1), []byte("Dune"), int64(101), "long")
	hs, err := f.Format(rowsOf(t, rows))
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Len(t, hs[0].(*Book).Reviews, 2)
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		name string
		key  any
		want any
	}{
		{"nil", nil, nil},
		{"int", int64(3), int64(3)},
		{"string", "a", "a"},
		{"bytes", []byte("a"), "a"},
		{"composite", [2]any{int64(1), []byte("b")}, [2]any{int64(1), "b"}},
		{"composite_null", [2]any{nil, []byte("b")}, [2]any{nil, "b"}},
		{"slice", []int{1, 2}, "[1 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keyOf(tt.key)
			assert.Equal(t, tt.want, got)
			assert.NotPanics(t, func() { _ = map[any]bool{got: true} })
		})
	}
}

func TestFormat_FanOutDuplicates(t *testing.T) {
	r := registry(t)
	f, err := NewFormatter(r, "book",
		WithRelations(
			NewWith("review", true, attachReview),
			NewWith("author", false, attachAuthor),
		),
	)
	require.NoError(t, err)
	// Two reviews per author row: the review must not be attached twice.
	rows := sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body", "author.id", "author.name"}).
		AddRow(int64(1), "Dune", int64(100), "great", int64(10), "Frank").
		AddRow(int64(1), "Dune", int64(100), "great", int64(11), "Brian")
	hs, err := f.Format(rowsOf(t, rows))
	require.NoError(t, err)
	require.Len(t, hs, 1)
	book := hs[0].(*Book)
	assert.Len(t, book.Reviews, 1)
	assert.Equal(t, int64(11), book.Author.ID)
}

func TestFormat_Chain(t *testing.T) {
	r := registry(t)
	f, err := NewFormatter(r, "book",
		WithRelations(
			NewWith("review", true, attachReview).WithInit(initReviews),
			NewWith("author", false, func(o, a Hydrator) { o.(*Review).Author = a.(*Author) }).From("Reviews"),
		),
	)
	require.NoError(t, err)
	assert.Equal(t, 6, f.Columns())
	rows := sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body", "author.id", "author.name"}).
		AddRow(int64(1), "Dune", int64(100), "great", int64(10), "Frank").
		AddRow(int64(1), "Dune", int64(101), "long", int64(11), "Brian").
		AddRow(int64(2), "Messiah", nil, nil, int64(12), "Ghost")
	hs, err := f.Format(rowsOf(t, rows))
	require.NoError(t, err)
	books, err := Entities[*Book](hs)
	require.NoError(t, err)
	require.Len(t, books, 2)
	require.Len(t, books[0].Reviews, 2)
	assert.Equal(t, "Frank", books[0].Reviews[0].Author.Name)
	assert.Equal(t, "Brian", books[0].Reviews[1].Author.Name)
	// The author of a missing review has nothing to attach to.
	assert.Empty(t, books[1].Reviews)
	assert.True(t, books[1].ReviewsLoaded)
	assert.Nil(t, books[1].Author)
}

func TestFormat_VirtualColumns(t *testing.T) {
	r := registry(t)
	f, err := NewFormatter(r, "book",
		WithRelations(NewWith("author", false, attachAuthor)),
		WithAsColumns("num_reviews"),
	)
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"book.id", "book.title", "author.id", "author.name", "num_reviews"}).
		AddRow(int64(1), "Dune", int64(10), "Frank", int64(3))
	hs, err := f.Format(rowsOf(t, rows))
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, int64(3), hs[0].(*Book).virtual["num_reviews"])
}

func TestFormat_Errors(t *testing.T) {
	r := registry(t)
	t.Run("limit_one_to_many", func(t *testing.T) {
		f, err := NewFormatter(r, "book",
			WithRelations(NewWith("review", true, attachReview)),
			WithLimit(true),
		)
		require.NoError(t, err)
		_, err = f.Format(rowsOf(t, bookReviewRows()))
		assert.ErrorIs(t, err, orbit.ErrConfig)
		assert.Contains(t, err.Error(), "cannot use limit with a one-to-many relation")
	})
	t.Run("limit_many_to_one", func(t *testing.T) {
		f, err := NewFormatter(r, "book",
			WithRelations(NewWith("author", false, attachAuthor)),
			WithLimit(true),
		)
		require.NoError(t, err)
		hs, err := f.Format(rowsOf(t, bookAuthorRows()))
		require.NoError(t, err)
		assert.Len(t, hs, 3)
	})
	t.Run("columns", func(t *testing.T) {
		f, err := NewFormatter(r, "book", WithRelations(NewWith("author", false, attachAuthor)))
		require.NoError(t, err)
		_, err = f.Format(rowsOf(t, sqlmock.NewRows([]string{"book.id", "book.title"}).AddRow(int64(1), "Dune")))
		assert.ErrorContains(t, err, "mismatch number of columns")
	})
	t.Run("hydrate", func(t *testing.T) {
		f, err := NewFormatter(r, "book")
		require.NoError(t, err)
		_, err = f.Format(rowsOf(t, sqlmock.NewRows([]string{"book.id", "book.title"}).AddRow("x", "Dune")))
		assert.ErrorContains(t, err, "hydrate book")
	})
	t.Run("null_primary", func(t *testing.T) {
		f, err := NewFormatter(r, "book")
		require.NoError(t, err)
		_, err = f.Format(rowsOf(t, sqlmock.NewRows([]string{"book.id", "book.title"}).AddRow(nil, nil)))
		assert.ErrorContains(t, err, "NULL primary key")
	})
	t.Run("unknown_model", func(t *testing.T) {
		_, err := NewFormatter(r, "publisher")
		assert.ErrorIs(t, err, orbit.ErrConfig)
		_, err = NewFormatter(r, "book", WithRelations(NewWith("publisher", false, attachAuthor)))
		assert.ErrorIs(t, err, orbit.ErrConfig)
	})
	t.Run("pool_without_init", func(t *testing.T) {
		_, err := NewFormatter(r, "book",
			WithRelations(NewWith("review", true, attachReview)),
			WithPool(orbit.NewMemoryPool()),
		)
		assert.ErrorIs(t, err, orbit.ErrConfig)
		assert.Contains(t, err.Error(), "needs an init function")
	})
	t.Run("no_attach", func(t *testing.T) {
		_, err := NewFormatter(r, "book", WithRelations(&With{Model: "author", IsPrimary: true}))
		assert.ErrorIs(t, err, orbit.ErrConfig)
	})
}

func TestFormatOne(t *testing.T) {
	r := registry(t)
	f, err := NewFormatter(r, "book", WithRelations(NewWith("review", true, attachReview)))
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body"}).
		AddRow(int64(1), "Dune", int64(100), "great").
		AddRow(int64(1), "Dune", int64(101), "long")
	h, err := f.FormatOne(rowsOf(t, rows))
	require.NoError(t, err)
	book := h.(*Book)
	assert.Equal(t, "Dune", book.Title)
	assert.Len(t, book.Reviews, 2)

	_, err = f.FormatOne(rowsOf(t, sqlmock.NewRows([]string{"book.id", "book.title", "review.id", "review.body"})))
	assert.True(t, orbit.IsNotFound(err))
}

func TestOnDemandIterator(t *testing.T) {
	r := registry(t)
	pool := orbit.NewMemoryPool()
	f, err := NewFormatter(r, "book", WithRelations(NewWith("author", false, attachAuthor)), WithPool(pool))
	require.NoError(t, err)

	it, err := f.Iterate(rowsOf(t, bookAuthorRows()))
	require.NoError(t, err)
	assert.False(t, pool.Enabled())
	var titles []string
	for it.Next() {
		titles = append(titles, it.Entity().(*Book).Title)
		assert.Equal(t, len(titles)-1, it.Position())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"Dune", "Messiah", "Orphan"}, titles)
	assert.True(t, pool.Enabled())
	assert.Zero(t, pool.Len())
	assert.False(t, it.Next())
	assert.NoError(t, it.Close())

	f, err = NewFormatter(r, "book", WithRelations(NewWith("review", true, attachReview)))
	require.NoError(t, err)
	_, err = f.Iterate(rowsOf(t, bookReviewRows()))
	assert.ErrorIs(t, err, orbit.ErrConfig)
}

func TestOnDemandIterator_Error(t *testing.T) {
	r := registry(t)
	pool := orbit.NewMemoryPool()
	f, err := NewFormatter(r, "book", WithPool(pool))
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"book.id", "book.title"}).
		AddRow(int64(1), "Dune").
		AddRow("bad", "Messiah")
	it, err := f.Iterate(rowsOf(t, rows))
	require.NoError(t, err)
	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.ErrorContains(t, it.Err(), "hydrate book")
	assert.True(t, pool.Enabled())
}

func TestFind(t *testing.T) {
	r := registry(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := sql.OpenDB(dialect.SQLite, db)

	c := sql.NewCriteria("bookstore").
		AddSelectColumn("book.id", "book.title", "author.id", "author.name").
		AddJoin("book.author_id", "author.id", sql.LeftJoin).
		Add("book.price", 10, sql.GT)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT book.id, book.title, author.id, author.name FROM book LEFT JOIN author ON (book.author_id=author.id) WHERE book.price > ?")).
		WithArgs(10).
		WillReturnRows(bookAuthorRows())

	f, err := NewFormatter(r, "book", WithRelations(NewWith("author", false, attachAuthor)))
	require.NoError(t, err)
	hs, err := Find(context.Background(), drv, drv.Adapter(), c, f)
	require.NoError(t, err)
	assert.Len(t, hs, 3)
	require.NoError(t, mock.ExpectationsWereMet())

	t.Run("limit_one_to_many", func(t *testing.T) {
		f, err := NewFormatter(r, "book", WithRelations(NewWith("review", true, attachReview)))
		require.NoError(t, err)
		_, err = Find(context.Background(), drv, drv.Adapter(), sql.NewCriteria("bookstore").AddSelectColumn("book.id").SetLimit(5), f)
		assert.ErrorIs(t, err, orbit.ErrConfig)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
