package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ch-ferry/config"
	"ch-ferry/database"
	"ch-ferry/metrics"
	"ch-ferry/schema"
	"ch-ferry/utils"
)

// Connections hands out the source and sink for a run.
type Connections interface {
	Source(ctx context.Context) (database.SourceDB, error)
	Target(ctx context.Context) (database.TargetDB, error)
}

type Processor struct {
	conns   Connections
	config  *config.Config
	retry   RetryPolicy
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewProcessor wires a processor. collector may be nil.
func NewProcessor(conns Connections, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) *Processor {
	return &Processor{
		conns:   conns,
		config:  cfg,
		retry:   NewRetryPolicy(cfg.Sync),
		logger:  logger,
		metrics: collector,
	}
}

// Run syncs every configured table in order. Table failures are recorded in the report and
// the run continues; only a failed source connection or a cancelled context stops it early.
// An unreachable sink fails every active table in the report.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	report := NewReport()
	logger := p.logger.With(zap.String("run_id", report.RunID))

	source, err := p.conns.Source(ctx)
	if err != nil {
		p.finish(report, logger)
		return report, fmt.Errorf("failed to connect to source: %w", err)
	}
	target, err := p.conns.Target(ctx)
	if err != nil {
		err = fmt.Errorf("failed to connect to clickhouse: %w", err)
		logger.Error("clickhouse unavailable, failing all tables", zap.Error(err))
		for _, task := range p.config.ActiveTasks() {
			report.Add(SyncResult{
				Table:       task.TableName,
				TargetTable: task.Target(),
				State:       StateFailed.String(),
				Error:       err.Error(),
			})
			p.metrics.TableFinished(task.Target(), false)
		}
		p.finish(report, logger)
		return report, nil
	}

	for i, task := range p.config.Tasks {
		if task.Ignore {
			logger.Info("skipping ignored task", zap.String("table", task.TableName))
			continue
		}
		if err := ctx.Err(); err != nil {
			p.finish(report, logger)
			return report, err
		}

		logger.Info("processing table",
			zap.Int("task", i+1),
			zap.Int("tasks", len(p.config.Tasks)),
			zap.String("table", task.TableName),
			zap.String("target", task.Target()))

		result, err := p.syncTable(ctx, logger, source, target, task)
		report.Add(result)
		p.metrics.TableFinished(task.Target(), result.Success)

		if err == nil {
			logger.Info("table synced",
				zap.String("table", task.TableName),
				zap.Uint64("rows", result.SinkCount),
				zap.Duration("duration", result.Duration))
			continue
		}

		var mismatch *VerificationMismatch
		switch {
		case ctx.Err() != nil:
			p.finish(report, logger)
			return report, ctx.Err()
		case errors.As(err, &mismatch):
			logger.Warn("verification mismatch",
				zap.String("table", task.TableName),
				zap.Uint64("source_count", mismatch.SourceCount),
				zap.Uint64("sink_count", mismatch.SinkCount))
		default:
			logger.Error("table sync failed",
				zap.String("table", task.TableName),
				zap.String("state", result.State),
				zap.Error(err))
		}
	}

	p.finish(report, logger)
	return report, nil
}

func (p *Processor) finish(report *Report, logger *zap.Logger) {
	report.Finish()
	p.metrics.RunFinished(time.Now())

	logger.Info("run finished",
		zap.Strings("succeeded", report.Succeeded()),
		zap.Strings("failed", report.Failed()),
		zap.Duration("duration", report.Duration))

	if err := report.WriteFile(p.config.Sync.ReportPath); err != nil {
		logger.Error("failed to write run report", zap.Error(err))
	}
}

// tableRun carries one table through its states.
type tableRun struct {
	task   config.TaskConfig
	state  TableState
	result SyncResult
	logger *zap.Logger
}

func (r *tableRun) transition(to TableState) {
	if !r.state.next(to) {
		r.logger.Error("invalid table state transition",
			zap.Stringer("from", r.state),
			zap.Stringer("to", to))
	}
	r.logger.Debug("table state", zap.Stringer("from", r.state), zap.Stringer("to", to))
	r.state = to
}

func (p *Processor) syncTable(ctx context.Context, logger *zap.Logger, source database.SourceDB, target database.TargetDB, task config.TaskConfig) (SyncResult, error) {
	run := &tableRun{
		task:  task,
		state: StateInit,
		result: SyncResult{
			Table:       task.TableName,
			TargetTable: task.Target(),
		},
		logger: logger.With(zap.String("table", task.TableName)),
	}

	start := time.Now()
	err := p.runTable(ctx, run, source, target)
	if err != nil && run.state != StateDone {
		run.transition(StateFailed)
	}

	run.result.Success = err == nil
	run.result.State = run.state.String()
	run.result.Duration = time.Since(start)
	if err != nil {
		run.result.Error = err.Error()
	}
	return run.result, err
}

func (p *Processor) runTable(ctx context.Context, run *tableRun, source database.SourceDB, target database.TargetDB) error {
	task := run.task

	run.transition(StateIntrospecting)
	columns, err := source.DescribeTable(ctx, task.TableName)
	if err != nil {
		return fmt.Errorf("failed to introspect table %s: %w", task.TableName, err)
	}
	for i := range columns {
		if columns[i].SinkType == "" {
			columns[i].SinkType = schema.MapType(columns[i].SourceType)
		}
		run.logger.Debug("mapped column",
			zap.String("column", columns[i].Name),
			zap.String("source_type", columns[i].SourceType),
			zap.String("sink_type", columns[i].SinkType),
			zap.String("rule", schema.MatchedRule(columns[i].SourceType)))
	}
	def, err := schema.Translate(task.Target(), columns)
	if err != nil {
		return fmt.Errorf("failed to translate schema of %s: %w", task.TableName, err)
	}

	run.transition(StateProvisioning)
	if err := NewProvisioner(target).Provision(ctx, def); err != nil {
		return err
	}
	run.logger.Info("provisioned clickhouse table",
		zap.String("target", def.Name),
		zap.String("order_by", def.OrderingKey),
		zap.Int("columns", len(def.Columns)))

	run.transition(StateSyncing)
	total, err := source.CountRows(ctx, task.TableName)
	if err != nil {
		return fmt.Errorf("failed to count rows of %s: %w", task.TableName, err)
	}
	if err := p.syncBatches(ctx, run, source, target, def, total); err != nil {
		return err
	}

	run.transition(StateVerifying)
	verification, err := NewVerifier(source, target).Verify(ctx, task.TableName, def.Name)
	if err != nil {
		return err
	}
	run.result.SourceCount = verification.SourceCount
	run.result.SinkCount = verification.SinkCount

	run.transition(StateDone)
	if !verification.Matched {
		return &VerificationMismatch{
			Table:       task.TableName,
			SourceCount: verification.SourceCount,
			SinkCount:   verification.SinkCount,
		}
	}
	return nil
}

// syncBatches runs the read, encode, load loop. A failed read or load leaves the offset where
// it is so the same window is retried; the table is abandoned once the retry policy stops
// allowing further errors.
func (p *Processor) syncBatches(ctx context.Context, run *tableRun, source database.SourceDB, target database.TargetDB, def schema.TableDefinition, total uint64) error {
	task := run.task
	batchSize := uint64(p.config.BatchSizeFor(task))
	reader := NewBatchReader(source, task.TableName, def, batchSize)
	loader := NewBulkLoader(target, def)
	progress := NewSyncProgress(total)

	defer func() {
		run.result.SyncedRecords = progress.SyncedRecords
		run.result.Batches = progress.Batches
		run.result.ErrorCount = progress.ErrorCount
	}()

	if total == 0 {
		run.logger.Info("source table is empty, nothing to load")
		return nil
	}
	run.logger.Info("starting batch sync",
		zap.Uint64("total_records", total),
		zap.Uint64("batch_size", batchSize))

	description := fmt.Sprintf("Syncing %s", task.TableName)
	bar := utils.NewProgressManager(int64(total), description, p.config.Sync.ShowProgress())
	defer bar.Finish()

	var (
		offset      uint64
		consecutive int
	)
	for offset < total {
		batchStart := time.Now()

		rows, err := reader.Read(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.BatchFailed(def.Name, metrics.StageRead)
			consecutive++
			if err := p.batchFailed(ctx, run, progress, offset, consecutive, err); err != nil {
				return err
			}
			bar.Describe(fmt.Sprintf("%s (retry %d/%d)", description, progress.ErrorCount, p.retry.MaxErrors))
			continue
		}
		if len(rows) == 0 {
			break
		}

		payload, err := loader.Encode(rows)
		if err != nil {
			return err
		}
		if err := loader.Load(ctx, offset, payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.BatchFailed(def.Name, metrics.StageLoad)
			consecutive++
			if err := p.batchFailed(ctx, run, progress, offset, consecutive, err); err != nil {
				return err
			}
			bar.Describe(fmt.Sprintf("%s (retry %d/%d)", description, progress.ErrorCount, p.retry.MaxErrors))
			continue
		}

		if consecutive > 0 {
			bar.Describe(description)
		}
		consecutive = 0
		progress.BatchSynced(len(rows))
		offset += batchSize
		p.metrics.BatchLoaded(def.Name, len(rows), time.Since(batchStart))
		bar.SetCurrent(int64(progress.SyncedRecords))

		run.logger.Info("batch synced",
			zap.Uint64("synced", progress.SyncedRecords),
			zap.Uint64("total", progress.TotalRecords),
			zap.String("rate", fmt.Sprintf("%.1f rec/s", progress.Rate())),
			zap.Duration("eta", progress.ETA().Round(time.Second)))
	}

	if progress.SyncedRecords < total {
		run.logger.Warn("source returned fewer rows than counted",
			zap.Uint64("synced", progress.SyncedRecords),
			zap.Uint64("counted", total))
	}
	run.logger.Info(fmt.Sprintf("synced %d records in %s (%.1f rec/s)",
		progress.SyncedRecords, progress.Elapsed().Round(time.Millisecond), progress.Rate()),
		zap.Uint32("batch_errors", progress.ErrorCount))
	return nil
}

func (p *Processor) batchFailed(ctx context.Context, run *tableRun, progress *SyncProgress, offset uint64, attempt int, cause error) error {
	progress.BatchFailed()
	run.logger.Warn("batch failed",
		zap.Uint64("offset", offset),
		zap.Uint32("error_count", progress.ErrorCount),
		zap.Int("max_errors", p.retry.MaxErrors),
		zap.Error(cause))

	if !p.retry.Allow(int(progress.ErrorCount)) {
		return fmt.Errorf("%w: %d failed batches, last at offset %d: %w",
			ErrTooManyBatchErrors, progress.ErrorCount, offset, cause)
	}
	return p.retry.Wait(ctx, attempt)
}
