package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"ch-ferry/config"
	"ch-ferry/schema"
)

// MySQL server error numbers the source distinguishes.
const (
	mysqlErrDBAccessDenied = 1044
	mysqlErrAccessDenied   = 1045
	mysqlErrBadDB          = 1049
	mysqlErrTooManyConns   = 1040
	mysqlErrNoSuchTable    = 1146
)

const (
	mysqlConnectTimeout      = 10 * time.Second
	mysqlDescribeNullableYes = "YES"
	mysqlDescribePrimaryKey  = "PRI"
)

type MySQLDB struct {
	db           *sql.DB
	queryTimeout time.Duration
	logger       *zap.Logger
}

var _ SourceDB = (*MySQLDB)(nil)

func NewMySQLDB(cfg config.SourceConfig, logger *zap.Logger) (*MySQLDB, error) {
	db, err := sql.Open("mysql", buildMySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), mysqlConnectTimeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping mysql database: %w", ErrSourceUnavailable, err)
	}

	logger.Info("connected to MySQL database",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))
	return newMySQLDB(db, cfg.QueryTimeout, logger), nil
}

func newMySQLDB(db *sql.DB, queryTimeout time.Duration, logger *zap.Logger) *MySQLDB {
	if queryTimeout <= 0 {
		queryTimeout = config.DefaultQueryTimeout
	}
	return &MySQLDB{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger.With(zap.String("component", "mysql")),
	}
}

func (m *MySQLDB) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

func (m *MySQLDB) DescribeTable(ctx context.Context, table string) ([]schema.ColumnDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	query := "DESCRIBE " + quoteIdentifier(table)
	m.logger.Debug("describing table", zap.String("sql", query))
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, classifyMySQLError(err))
	}
	defer rows.Close()

	var columns []schema.ColumnDescriptor
	for rows.Next() {
		var (
			field, typ, null, key, extra string
			def                          sql.NullString
		)
		if err := rows.Scan(&field, &typ, &null, &key, &def, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan column description of %s: %w", table, err)
		}
		col := schema.ColumnDescriptor{
			Name:       field,
			SourceType: typ,
			Nullable:   null == mysqlDescribeNullableYes,
			PrimaryKey: key == mysqlDescribePrimaryKey,
		}
		if def.Valid {
			value := def.String
			col.Default = &value
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, classifyMySQLError(err))
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return columns, nil
}

func (m *MySQLDB) CountRows(ctx context.Context, table string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	var count uint64
	countSQL := "SELECT COUNT(*) FROM " + quoteIdentifier(table)
	if err := m.db.QueryRowContext(ctx, countSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get row count for table %s: %w", table, classifyMySQLError(err))
	}
	return count, nil
}

func (m *MySQLDB) SelectBatch(ctx context.Context, table string, columns []schema.ColumnDescriptor, orderBy string, limit, offset uint64) ([]schema.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	query := selectBatchSQL(table, columns, orderBy, limit, offset)
	m.logger.Debug("executing batch query", zap.String("sql", query))
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute mysql query: %w", classifyMySQLError(err))
	}
	defer rows.Close()

	return scanRows(rows, columns)
}

// classifyMySQLError tags driver errors with ErrTableNotFound or ErrSourceUnavailable so
// callers can branch with errors.Is.
func classifyMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrNoSuchTable:
			return fmt.Errorf("%w: %w", ErrTableNotFound, err)
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied, mysqlErrBadDB, mysqlErrTooManyConns:
			return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return err
	}

	// context errors also satisfy net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return err
}

func buildMySQLDSN(cfg config.SourceConfig) string {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	dsn.DBName = cfg.Database
	dsn.ParseTime = true
	dsn.Timeout = mysqlConnectTimeout
	return dsn.FormatDSN()
}
