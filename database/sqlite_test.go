package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ch-ferry/schema"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "source.db"), 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedEvents(t *testing.T, db *SQLiteDB, n int) {
	t.Helper()
	_, err := db.DB().Exec(`CREATE TABLE events (
		id INTEGER PRIMARY KEY,
		name VARCHAR(32) NOT NULL,
		amount DECIMAL(10,2),
		note TEXT DEFAULT 'none'
	)`)
	require.NoError(t, err)

	tx, err := db.DB().Begin()
	require.NoError(t, err)
	stmt, err := tx.Prepare("INSERT INTO events (id, name, amount) VALUES (?, ?, ?)")
	require.NoError(t, err)
	for i := 1; i <= n; i++ {
		_, err := stmt.Exec(i, fmt.Sprintf("event-%d", i), float64(i)/4)
		require.NoError(t, err)
	}
	require.NoError(t, stmt.Close())
	require.NoError(t, tx.Commit())
}

func TestSQLiteDescribeTable(t *testing.T) {
	db := newTestSQLite(t)
	seedEvents(t, db, 0)

	columns, err := db.DescribeTable(context.Background(), "events")
	require.NoError(t, err)
	require.Len(t, columns, 4)

	assert.Equal(t, "id", columns[0].Name)
	assert.Equal(t, "INTEGER", columns[0].SourceType)
	assert.True(t, columns[0].PrimaryKey)

	assert.False(t, columns[1].Nullable)
	assert.True(t, columns[2].Nullable)
	assert.Equal(t, "DECIMAL(10,2)", columns[2].SourceType)

	require.NotNil(t, columns[3].Default)
	assert.Equal(t, "'none'", *columns[3].Default)
}

func TestSQLiteDescribeMissingTable(t *testing.T) {
	db := newTestSQLite(t)

	_, err := db.DescribeTable(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestSQLitePagination(t *testing.T) {
	db := newTestSQLite(t)
	seedEvents(t, db, 2537)
	ctx := context.Background()

	described, err := db.DescribeTable(ctx, "events")
	require.NoError(t, err)
	for i := range described {
		described[i].SinkType = schema.MapType(described[i].SourceType)
	}
	def, err := schema.Translate("events", described)
	require.NoError(t, err)

	total, err := db.CountRows(ctx, "events")
	require.NoError(t, err)
	require.Equal(t, uint64(2537), total)

	const batchSize = 500
	var sizes []int
	seen := make(map[string]bool)
	for offset := uint64(0); offset < total; offset += batchSize {
		rows, err := db.SelectBatch(ctx, "events", def.Columns, def.OrderingKey, batchSize, offset)
		require.NoError(t, err)
		if len(rows) == 0 {
			break
		}
		sizes = append(sizes, len(rows))
		for _, row := range rows {
			id := row["id"].String()
			assert.False(t, seen[id], "row %s fetched twice", id)
			seen[id] = true
		}
	}

	assert.Equal(t, []int{500, 500, 500, 500, 500, 37}, sizes)
	assert.Len(t, seen, 2537)

	tail, err := db.SelectBatch(ctx, "events", def.Columns, def.OrderingKey, batchSize, 2537)
	require.NoError(t, err)
	assert.Empty(t, tail)
}
