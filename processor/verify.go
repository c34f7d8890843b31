package processor

import (
	"context"
	"fmt"

	"ch-ferry/database"
)

// Verification is the outcome of comparing row counts after a sync.
type Verification struct {
	SourceCount uint64
	SinkCount   uint64
	Matched     bool
}

// Verifier compares source and sink row counts. A mismatch is reported, never repaired.
type Verifier struct {
	source database.SourceDB
	target database.TargetDB
}

func NewVerifier(source database.SourceDB, target database.TargetDB) *Verifier {
	return &Verifier{source: source, target: target}
}

func (v *Verifier) Verify(ctx context.Context, sourceTable, targetTable string) (Verification, error) {
	sourceCount, err := v.source.CountRows(ctx, sourceTable)
	if err != nil {
		return Verification{}, fmt.Errorf("failed to count source rows: %w", err)
	}
	sinkCount, err := v.target.GetTableRowCount(ctx, targetTable)
	if err != nil {
		return Verification{}, fmt.Errorf("failed to count clickhouse rows: %w", err)
	}
	return Verification{
		SourceCount: sourceCount,
		SinkCount:   sinkCount,
		Matched:     sourceCount == sinkCount,
	}, nil
}
