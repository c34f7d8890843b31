package processor

import (
	"context"
	"errors"
	"fmt"

	"ch-ferry/database"
	"ch-ferry/schema"
	"ch-ferry/tsv"
)

// BulkLoader encodes batches as TabSeparated and submits them to the sink.
type BulkLoader struct {
	target  database.TargetDB
	def     schema.TableDefinition
	columns []string
	encoder *tsv.Encoder
}

func NewBulkLoader(target database.TargetDB, def schema.TableDefinition) *BulkLoader {
	return &BulkLoader{
		target:  target,
		def:     def,
		columns: def.ColumnNames(),
		encoder: tsv.NewEncoder(def.Columns),
	}
}

func (l *BulkLoader) Encode(rows []schema.Row) ([]byte, error) {
	payload, err := l.encoder.Encode(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch for %s: %w", l.def.Name, err)
	}
	return payload, nil
}

// Load submits one encoded batch. Any rejection is returned as *LoadError.
func (l *BulkLoader) Load(ctx context.Context, offset uint64, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	err := l.target.InsertBatch(ctx, l.def.Name, l.columns, payload)
	if err == nil {
		return nil
	}

	msg := err.Error()
	var sinkErr *database.SinkError
	if errors.As(err, &sinkErr) {
		msg = sinkErr.Message
	}
	return &LoadError{Table: l.def.Name, Offset: offset, Message: msg, Err: err}
}
