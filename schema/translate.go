package schema

import "fmt"

// Translate builds the sink table definition for the given columns. Columns that allow
// NULL are wrapped in Nullable unless they are primary keys, which back the ordering key
// and must stay non-null.
func Translate(tableName string, columns []ColumnDescriptor) (TableDefinition, error) {
	if len(columns) == 0 {
		return TableDefinition{}, fmt.Errorf("no columns provided for table %s", tableName)
	}

	translated := make([]ColumnDescriptor, len(columns))
	for i, col := range columns {
		if col.SinkType == "" {
			col.SinkType = MapType(col.SourceType)
		}
		if col.Nullable && !col.PrimaryKey {
			col.SinkType = NullableType(col.SinkType)
		}
		translated[i] = col
	}

	def := TableDefinition{
		Name:        tableName,
		Columns:     translated,
		OrderingKey: OrderingKey(translated),
	}
	if err := def.Validate(); err != nil {
		return TableDefinition{}, err
	}
	return def, nil
}

// OrderingKey returns the single primary key column, or the first column when the table
// has no primary key or a composite one.
func OrderingKey(columns []ColumnDescriptor) string {
	if len(columns) == 0 {
		return ""
	}
	key := ""
	count := 0
	for _, col := range columns {
		if col.PrimaryKey {
			key = col.Name
			count++
		}
	}
	if count == 1 {
		return key
	}
	return columns[0].Name
}
