package nestedset

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/dialect"
	"github.com/syssam/orbit/dialect/sql"
)

const (
	pgLock  = "SELECT category.id, category.lft, category.rgt, category.lvl FROM category ORDER BY category.lft ASC FOR UPDATE"
	pgShift = "UPDATE category SET rgt = rgt + $1, lft = CASE WHEN lft >= $2 THEN lft + $3 ELSE lft END WHERE category.rgt >= $4"
)

func mockTree(t *testing.T, name string, def Definition, opts ...Option) (*Tree, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tree, err := New(sql.OpenDB(name, db), def, opts...)
	require.NoError(t, err)
	return tree, mock
}

func nodeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "lft", "rgt", "lvl"})
}

func TestMutation_LockShiftInsert(t *testing.T) {
	tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
	mock.ExpectBegin()
	mock.ExpectQuery(pgLock).
		WillReturnRows(nodeRows().AddRow(int64(1), int64(1), int64(2), int64(0)))
	mock.ExpectExec(pgShift).
		WithArgs(2, 2, 2, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO category (lft, rgt, lvl, name) VALUES ($1, $2, $3, $4) RETURNING id").
		WithArgs(2, 3, 1, "child").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT category.id, category.lft, category.rgt, category.lvl FROM category WHERE category.id IN ($1)").
		WithArgs(1).
		WillReturnRows(nodeRows().AddRow(int64(1), int64(1), int64(4), int64(0)))

	root := &category{Node: Node{ID: 1, Left: 1, Right: 2}, Name: "root"}
	child := &category{Name: "child"}
	require.NoError(t, tree.InsertAsFirstChildOf(context.Background(), child, root))
	assert.Equal(t, Node{ID: 2, Left: 2, Right: 3, Level: 1}, child.Node)
	assert.Equal(t, Node{ID: 1, Left: 1, Right: 4, Level: 0}, root.Node)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutation_Rollback(t *testing.T) {
	boom := errors.New("boom")
	t.Run("exec", func(t *testing.T) {
		tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
		mock.ExpectBegin()
		mock.ExpectQuery(pgLock).
			WillReturnRows(nodeRows().AddRow(int64(1), int64(1), int64(2), int64(0)))
		mock.ExpectExec(pgShift).WillReturnError(boom)
		mock.ExpectRollback()

		child := &category{Name: "child"}
		err := tree.InsertAsLastChildOf(context.Background(), child, &Node{ID: 1, Left: 1, Right: 2})
		require.Error(t, err)
		assert.True(t, orbit.IsMutationError(err))
		assert.ErrorIs(t, err, boom)
		assert.False(t, child.InTree())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("lock", func(t *testing.T) {
		tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
		mock.ExpectBegin()
		mock.ExpectQuery(pgLock).WillReturnError(boom)
		mock.ExpectRollback()

		_, err := tree.Delete(context.Background(), &Node{ID: 1, Left: 1, Right: 2})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("rollback_failure", func(t *testing.T) {
		tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
		rberr := errors.New("connection lost")
		mock.ExpectBegin()
		mock.ExpectQuery(pgLock).
			WillReturnRows(nodeRows().AddRow(int64(1), int64(1), int64(2), int64(0)))
		mock.ExpectExec(pgShift).WillReturnError(boom)
		mock.ExpectRollback().WillReturnError(rberr)

		err := tree.InsertAsFirstChildOf(context.Background(), &category{Name: "child"}, &Node{ID: 1, Left: 1, Right: 2})
		var re *orbit.RollbackError
		require.ErrorAs(t, err, &re)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, rberr)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("integrity", func(t *testing.T) {
		tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
		mock.ExpectBegin()
		mock.ExpectQuery(pgLock).
			WillReturnRows(nodeRows().AddRow(int64(1), int64(1), int64(2), int64(0)))
		mock.ExpectRollback()

		err := tree.InsertAsNextSiblingOf(context.Background(), &category{Name: "x"}, &Node{ID: 1, Left: 1, Right: 2})
		assert.ErrorIs(t, err, orbit.ErrIntegrity)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMutation_MySQLScoped(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tree, mock := mockTree(t, dialect.MySQL, Definition{Table: "category", Scope: "tree_id"}, WithLogger(log))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT category.id, category.lft, category.rgt, category.lvl, category.tree_id FROM category WHERE category.tree_id = ? ORDER BY category.lft ASC FOR UPDATE").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "lft", "rgt", "lvl", "tree_id"}))
	mock.ExpectExec("INSERT INTO category (lft, rgt, lvl, tree_id, name) VALUES (?, ?, ?, ?, ?)").
		WithArgs(1, 2, 0, 3, "root").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	root := &category{Node: Node{Scope: 3}, Name: "root"}
	require.NoError(t, tree.CreateRoot(context.Background(), root))
	assert.Equal(t, Node{ID: 7, Left: 1, Right: 2, Level: 0, Scope: 3}, root.Node)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, buf.String(), "tree mutation committed")
	assert.Contains(t, buf.String(), `"op":"create_root"`)
	assert.Contains(t, buf.String(), `"op_id"`)
}

func TestMutation_AlreadyInTree(t *testing.T) {
	tree, mock := mockTree(t, dialect.Postgres, Definition{Table: "category"})
	err := tree.InsertAsFirstChildOf(context.Background(), &Node{ID: 2, Left: 2, Right: 3}, &Node{ID: 1, Left: 1, Right: 4})
	assert.ErrorIs(t, err, orbit.ErrIntegrity)
	assert.True(t, orbit.IsMutationError(err))
	// Rejected before any transaction starts.
	require.NoError(t, mock.ExpectationsWereMet())
}

// recordingDriver records the isolation level of every transaction.
type recordingDriver struct {
	*sql.Driver
	levels []sql.IsolationLevel
}

func (d *recordingDriver) Tx(ctx context.Context) (dialect.Tx, error) { return d.BeginTx(ctx, nil) }

func (d *recordingDriver) BeginTx(ctx context.Context, opts *sql.TxOptions) (dialect.Tx, error) {
	level := sql.LevelDefault
	if opts != nil {
		level = opts.Isolation
	}
	d.levels = append(d.levels, level)
	return d.Driver.BeginTx(ctx, opts)
}

func TestMutation_Isolation(t *testing.T) {
	rooted := func() *sqlmock.Rows { return nodeRows().AddRow(int64(1), int64(1), int64(2), int64(0)) }
	tests := []struct {
		name    string
		dialect string
		root    bool
		rows    *sqlmock.Rows
		want    sql.IsolationLevel
	}{
		{"postgres_insert", dialect.Postgres, false, nodeRows(), sql.LevelDefault},
		{"postgres_root", dialect.Postgres, true, rooted(), sql.LevelSerializable},
		{"mysql_root", dialect.MySQL, true, rooted(), sql.LevelSerializable},
		{"mssql_insert", dialect.MSSQL, false, nodeRows(), sql.LevelSerializable},
		{"mssql_root", dialect.MSSQL, true, rooted(), sql.LevelSerializable},
		{"sqlite_root", dialect.SQLite, true, rooted(), sql.LevelDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			drv := &recordingDriver{Driver: sql.OpenDB(tt.dialect, db)}
			tree, err := New(drv, Definition{Table: "category"})
			require.NoError(t, err)
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT").WillReturnRows(tt.rows)
			mock.ExpectRollback()

			ctx := context.Background()
			if tt.root {
				err = tree.CreateRoot(ctx, &category{Name: "root"})
			} else {
				err = tree.InsertAsFirstChildOf(ctx, &category{Name: "child"}, &Node{ID: 1, Left: 1, Right: 2})
			}
			assert.ErrorIs(t, err, orbit.ErrIntegrity)
			assert.Equal(t, []sql.IsolationLevel{tt.want}, drv.levels)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMutation_IsolationUnsupported(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := struct{ dialect.Driver }{sql.OpenDB(dialect.MSSQL, db)}
	tree, err := New(drv, Definition{Table: "category"})
	require.NoError(t, err)
	err = tree.CreateRoot(context.Background(), &category{Name: "root"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support transaction options")
	assert.True(t, orbit.IsMutationError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
