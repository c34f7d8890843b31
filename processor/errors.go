package processor

import (
	"errors"
	"fmt"
)

// ErrTooManyBatchErrors is returned once a table has failed more batches than allowed.
var ErrTooManyBatchErrors = errors.New("too many batch errors")

// ProvisionError is a rejected DROP or CREATE. It is never retried.
type ProvisionError struct {
	Table string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision table %s: %v", e.Table, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// LoadError is a batch the sink did not accept.
type LoadError struct {
	Table   string
	Offset  uint64
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load batch at offset %d into %s: %s", e.Offset, e.Table, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// VerificationMismatch records differing row counts after a sync.
type VerificationMismatch struct {
	Table       string
	SourceCount uint64
	SinkCount   uint64
}

func (e *VerificationMismatch) Error() string {
	return fmt.Sprintf("row count mismatch for %s: source %d, clickhouse %d", e.Table, e.SourceCount, e.SinkCount)
}
