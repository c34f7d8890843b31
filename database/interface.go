package database

import (
	"context"
	"errors"

	"ch-ferry/schema"
)

var (
	// ErrSourceUnavailable marks connection and authentication failures on the source. A run
	// cannot continue past it.
	ErrSourceUnavailable = errors.New("source database unavailable")

	// ErrTableNotFound is returned when the source table does not exist.
	ErrTableNotFound = errors.New("table not found")
)

// SourceDB 定义源数据库的通用接口
// MySQL和SQLite都需要实现这个接口
type SourceDB interface {
	Close() error

	// DescribeTable returns the table's columns in declaration order. SinkType is left empty.
	DescribeTable(ctx context.Context, table string) ([]schema.ColumnDescriptor, error)

	// CountRows returns the current number of rows in the table.
	CountRows(ctx context.Context, table string) (uint64, error)

	// SelectBatch returns at most limit rows starting at offset, ordered by orderBy. An empty
	// result means the table is exhausted.
	SelectBatch(ctx context.Context, table string, columns []schema.ColumnDescriptor, orderBy string, limit, offset uint64) ([]schema.Row, error)
}

// TargetDB 定义目标数据库的通用接口
type TargetDB interface {
	Close() error

	// CreateTable drops any existing table with the same name and creates it from def.
	CreateTable(ctx context.Context, def schema.TableDefinition) error

	// InsertBatch loads a TabSeparated payload whose fields follow columns.
	InsertBatch(ctx context.Context, table string, columns []string, payload []byte) error

	GetTableRowCount(ctx context.Context, table string) (uint64, error)
}
