package schema

import (
	"fmt"
	"strings"
)

// ColumnDescriptor describes one source column and the ClickHouse type it maps to.
type ColumnDescriptor struct {
	Name       string
	SourceType string
	SinkType   string
	Nullable   bool
	PrimaryKey bool
	Default    *string
}

// BaseType returns the sink type without any Nullable wrapper.
func (c ColumnDescriptor) BaseType() string {
	return BaseType(c.SinkType)
}

// TableDefinition is the sink-side table derived from the source columns.
type TableDefinition struct {
	Name        string
	Columns     []ColumnDescriptor
	OrderingKey string
}

// ColumnNames returns the column names in declaration order.
func (d TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, col := range d.Columns {
		names[i] = col.Name
	}
	return names
}

// Column looks up a column by name.
func (d TableDefinition) Column(name string) (ColumnDescriptor, bool) {
	for _, col := range d.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDescriptor{}, false
}

// Validate checks that the definition can be provisioned.
func (d TableDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", d.Name)
	}
	if _, ok := d.Column(d.OrderingKey); !ok {
		return fmt.Errorf("ordering key %q is not a column of table %s", d.OrderingKey, d.Name)
	}
	return nil
}

// Row is one fetched source row keyed by column name.
type Row map[string]Value

// BaseType strips a Nullable(...) wrapper from a sink type.
func BaseType(sinkType string) string {
	if strings.HasPrefix(sinkType, nullablePrefix) && strings.HasSuffix(sinkType, ")") {
		return sinkType[len(nullablePrefix) : len(sinkType)-1]
	}
	return sinkType
}

// IsNullableType reports whether the sink type carries a Nullable wrapper.
func IsNullableType(sinkType string) bool {
	return BaseType(sinkType) != sinkType
}
