package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"pingme/internal/chain"
	"pingme/internal/model"
)

// LogSource is the part of the chain client a replay needs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
}

// Processor consumes replayed logs. An error stops the replay before the chunk is
// checkpointed.
type Processor interface {
	Process(ctx context.Context, raw model.RawLog) error
}

// RunConfig holds settings for one historical replay.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Runner replays a block range through the pipeline in chunks.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	filters    []chain.Filter
	processor  Processor
	logger     *zap.Logger
	checkpoint *CheckpointStore
}

func NewRunner(cfg RunConfig, source LogSource, watches []model.ContractWatch, processor Processor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	filters := chain.FiltersFor(watches)
	return &Runner{
		cfg:        cfg,
		source:     source,
		filters:    filters,
		processor:  processor,
		logger:     logger,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled, Fingerprint(filters)),
	}
}

// Run replays [FromBlock, ToBlock], resuming after the last checkpointed chunk.
// A zero ToBlock means the current head.
func (r *Runner) Run(ctx context.Context) error {
	if r.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if r.processor == nil {
		return fmt.Errorf("processor is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.filters) == 0 {
		return fmt.Errorf("at least one watched event is required")
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		var latest uint64
		err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			latest, err = r.source.BlockNumber(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load()
	if err != nil {
		return err
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
	}

	if from > to {
		r.logger.Info("nothing to replay", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raws, err := r.collect(ctx, blockRange)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			if err := r.processor.Process(ctx, raw); err != nil {
				return fmt.Errorf("process log %s:%d: %w", raw.TxHash, raw.LogIndex, err)
			}
		}

		if err := r.checkpoint.Save(blockRange.To); err != nil {
			return err
		}
		r.logger.Info("chunk replayed", zap.Int("logs", len(raws)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}
	return nil
}

// collect fetches every filter for the range and orders the logs by chain position.
func (r *Runner) collect(ctx context.Context, blockRange BlockRange) ([]model.RawLog, error) {
	raws := make([]model.RawLog, 0)
	for _, f := range r.filters {
		logs, err := r.filterLogsWithRetry(ctx, f, blockRange)
		if err != nil {
			return nil, fmt.Errorf("filter logs %s: %w", f.Key(), err)
		}
		for _, log := range logs {
			raws = append(raws, chain.ToRawLog(log, f.EventName))
		}
	}
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].BlockNumber != raws[j].BlockNumber {
			return raws[i].BlockNumber < raws[j].BlockNumber
		}
		return raws[i].LogIndex < raws[j].LogIndex
	})
	return raws, nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, f chain.Filter, blockRange BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, f.RangeQuery(blockRange.From, blockRange.To))
		if err != nil {
			r.logger.Warn("filter logs failed",
				zap.Error(err),
				zap.String("filter", f.Key()),
				zap.Uint64("from", blockRange.From),
				zap.Uint64("to", blockRange.To),
			)
		}
		return err
	})
	return logs, err
}
