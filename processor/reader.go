package processor

import (
	"context"

	"ch-ferry/database"
	"ch-ferry/schema"
)

// BatchReader pages through a source table in ordering-key order.
type BatchReader struct {
	source    database.SourceDB
	table     string
	def       schema.TableDefinition
	batchSize uint64
}

func NewBatchReader(source database.SourceDB, table string, def schema.TableDefinition, batchSize uint64) *BatchReader {
	return &BatchReader{source: source, table: table, def: def, batchSize: batchSize}
}

// Read fetches the window starting at offset. An empty slice means the table is exhausted.
func (r *BatchReader) Read(ctx context.Context, offset uint64) ([]schema.Row, error) {
	return r.source.SelectBatch(ctx, r.table, r.def.Columns, r.def.OrderingKey, r.batchSize, offset)
}
