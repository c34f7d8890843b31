package database

import (
	"database/sql"
	"fmt"
	"strings"

	"ch-ferry/schema"
)

// scanRows reads every remaining row and converts each field according to its column.
func scanRows(rows *sql.Rows, columns []schema.ColumnDescriptor) ([]schema.Row, error) {
	var result []schema.Row
	for rows.Next() {
		row, err := scanRow(rows, columns)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return result, nil
}

func scanRow(rows *sql.Rows, columns []schema.ColumnDescriptor) (schema.Row, error) {
	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	row := make(schema.Row, len(columns))
	for i, col := range columns {
		v, err := schema.FromDriver(values[i], col)
		if err != nil {
			return nil, err
		}
		row[col.Name] = v
	}
	return row, nil
}

func quoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

func quoteColumns(columns []schema.ColumnDescriptor) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdentifier(col.Name)
	}
	return strings.Join(quoted, ", ")
}

// selectBatchSQL builds the paginated SELECT shared by the SQL sources. LIMIT and OFFSET are
// written as literals.
func selectBatchSQL(table string, columns []schema.ColumnDescriptor, orderBy string, limit, offset uint64) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d OFFSET %d",
		quoteColumns(columns),
		quoteIdentifier(table),
		quoteIdentifier(orderBy),
		limit,
		offset,
	)
}
