package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SyncResult is the outcome of one table.
type SyncResult struct {
	Table         string        `json:"table"`
	TargetTable   string        `json:"target_table"`
	Success       bool          `json:"success"`
	SourceCount   uint64        `json:"source_count"`
	SinkCount     uint64        `json:"sink_count"`
	SyncedRecords uint64        `json:"synced_records"`
	Batches       int           `json:"batches"`
	ErrorCount    uint32        `json:"error_count"`
	State         string        `json:"state"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
}

// Report aggregates every table of a run.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Results   []SyncResult  `json:"results"`
}

func NewReport() *Report {
	return &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Results:   []SyncResult{},
	}
}

func (r *Report) Add(result SyncResult) {
	r.Results = append(r.Results, result)
}

func (r *Report) Finish() {
	r.Duration = time.Since(r.StartedAt)
}

func (r *Report) Succeeded() []string {
	return r.tables(true)
}

func (r *Report) Failed() []string {
	return r.tables(false)
}

// OK reports whether every table synced and verified.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

func (r *Report) tables(success bool) []string {
	var names []string
	for _, res := range r.Results {
		if res.Success == success {
			names = append(names, res.Table)
		}
	}
	return names
}

// WriteFile stores the report as indented JSON, creating parent directories.
func (r *Report) WriteFile(path string) error {
	if path == "" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
