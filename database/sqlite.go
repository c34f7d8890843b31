package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"ch-ferry/config"
	"ch-ferry/schema"
)

// SQLiteDB reads tables from a local SQLite file. It serves fixtures and small local sources.
type SQLiteDB struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *zap.Logger
}

var _ SourceDB = (*SQLiteDB)(nil)

func NewSQLiteDB(dbPath string, queryTimeout time.Duration, logger *zap.Logger) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping sqlite database: %w", ErrSourceUnavailable, err)
	}

	if queryTimeout <= 0 {
		queryTimeout = config.DefaultQueryTimeout
	}
	logger.Info("connected to SQLite database", zap.String("path", dbPath))
	return &SQLiteDB{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger.With(zap.String("component", "sqlite")),
	}, nil
}

func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle so fixtures can be seeded.
func (s *SQLiteDB) DB() *sql.DB {
	return s.db
}

func (s *SQLiteDB) DescribeTable(ctx context.Context, table string) ([]schema.ColumnDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT name, type, \"notnull\", dflt_value, pk FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []schema.ColumnDescriptor
	for rows.Next() {
		var (
			name, typ   string
			notNull, pk int
			def         sql.NullString
		)
		if err := rows.Scan(&name, &typ, &notNull, &def, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column description of %s: %w", table, err)
		}
		col := schema.ColumnDescriptor{
			Name:       name,
			SourceType: typ,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		}
		if def.Valid {
			value := def.String
			col.Default = &value
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	// pragma_table_info yields nothing for a missing table
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return columns, nil
}

func (s *SQLiteDB) CountRows(ctx context.Context, table string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var count uint64
	countSQL := "SELECT COUNT(*) FROM " + quoteIdentifier(table)
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get row count for table %s: %w", table, err)
	}
	return count, nil
}

func (s *SQLiteDB) SelectBatch(ctx context.Context, table string, columns []schema.ColumnDescriptor, orderBy string, limit, offset uint64) ([]schema.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	query := selectBatchSQL(table, columns, orderBy, limit, offset)
	s.logger.Debug("executing batch query", zap.String("sql", query))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute sqlite query: %w", err)
	}
	defer rows.Close()

	return scanRows(rows, columns)
}
