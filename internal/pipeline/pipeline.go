// Package pipeline turns raw contract logs into persisted events and user
// notifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pingme/internal/enrich"
	"pingme/internal/match"
	"pingme/internal/metrics"
	"pingme/internal/model"
	"pingme/internal/notify"
	"pingme/internal/storage"
)

type Decoder interface {
	Decode(ctx context.Context, raw model.RawLog) model.DomainEvent
}

type Analyzer interface {
	Analyze(ctx context.Context, ev model.DomainEvent) enrich.Analysis
}

type Notifier interface {
	Send(ctx context.Context, userID string, msg model.NotificationMessage) (bool, error)
	SendBatch(ctx context.Context, userID string, msgs []model.NotificationMessage) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev model.DomainEvent) error
}

// Options wires a Pipeline. Publisher is optional; a zero BatchWindow disables
// batching and sends batch-mode users their messages one by one.
type Options struct {
	Decoder     Decoder
	Events      storage.EventStore
	Preferences storage.PreferenceStore
	Analyzer    Analyzer
	Notifier    Notifier
	Publisher   Publisher
	Handlers    Handlers
	BatchWindow time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type Pipeline struct {
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	batcher *notify.Batcher
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.BatchWindow > 0 {
		p.batcher = notify.NewBatcher(opts.BatchWindow, p.flushBatch, logger)
	}
	return p
}

// HandleLog schedules raw for processing and returns immediately. Logs arriving
// after Close are dropped.
func (p *Pipeline) HandleLog(raw model.RawLog) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("pipeline closed, dropping log", zap.String("tx_hash", raw.TxHash), zap.Uint64("log_index", raw.LogIndex))
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		_ = p.Process(p.ctx, raw)
	}()
}

// Process runs raw through the pipeline synchronously. Duplicates and removed
// logs return nil without side effects.
func (p *Pipeline) Process(ctx context.Context, raw model.RawLog) error {
	if raw.Removed {
		p.logger.Debug("skipping removed log", zap.String("tx_hash", raw.TxHash), zap.Uint64("log_index", raw.LogIndex))
		return nil
	}

	ev := p.opts.Decoder.Decode(ctx, raw)
	inserted, err := p.opts.Events.SaveEvent(ctx, ev)
	if err != nil {
		p.metrics.Event("save_error")
		p.logger.Error("save event failed", zap.String("event_id", ev.ID), zap.Error(err))
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	if !inserted {
		p.metrics.Duplicate()
		p.logger.Debug("duplicate event", zap.String("event_id", ev.ID))
		return nil
	}
	if ev.DecodeError != "" {
		p.metrics.Event("decode_error")
	} else {
		p.metrics.Event("decoded")
	}

	p.logger.Info("event stored",
		zap.String("event_id", ev.ID),
		zap.String("contract", ev.ContractName),
		zap.String("event", ev.EventName),
		zap.Uint64("block", ev.BlockNumber),
		zap.String("importance", string(ev.Importance)),
	)

	if p.opts.Publisher != nil {
		if err := p.opts.Publisher.Publish(ctx, ev); err != nil {
			p.logger.Warn("publish event failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}

	if p.opts.Handlers.Kind(ev.EventName) == HandlerNotify {
		if err := p.notifyAll(ctx, ev); err != nil {
			return err
		}
	}

	if err := p.opts.Events.MarkProcessed(ctx, ev.ID); err != nil {
		p.logger.Error("mark processed failed", zap.String("event_id", ev.ID), zap.Error(err))
		return fmt.Errorf("mark processed %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Pipeline) notifyAll(ctx context.Context, ev model.DomainEvent) error {
	users, err := match.Candidates(ctx, p.opts.Preferences, ev, p.logger)
	if err != nil {
		p.logger.Error("find interested users failed", zap.String("event_id", ev.ID), zap.Error(err))
		return fmt.Errorf("find interested users for %s: %w", ev.ID, err)
	}
	if len(users) == 0 {
		p.logger.Debug("no interested users", zap.String("event_id", ev.ID))
		return nil
	}

	analyze := sync.OnceValue(func() enrich.Analysis {
		return p.opts.Analyzer.Analyze(ctx, ev)
	})

	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			p.notifyUser(ctx, userID, ev, analyze)
		}(userID)
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) notifyUser(ctx context.Context, userID string, ev model.DomainEvent, analyze func() enrich.Analysis) {
	log := p.logger.With(zap.String("user_id", userID), zap.String("event_id", ev.ID))

	pref, err := p.opts.Preferences.GetPreference(ctx, userID)
	if err != nil {
		log.Warn("load preference failed", zap.Error(err))
		return
	}

	quiet, err := notify.InQuietHours(pref.QuietHours, p.now())
	if err != nil {
		log.Warn("invalid quiet hours, not suppressing", zap.Error(err))
	}
	if quiet {
		p.metrics.Suppressed("quiet_hours")
		log.Info("user in quiet hours, skipping notification")
		return
	}

	msg, err := notify.Generate(ev, analyze(), pref)
	switch {
	case errors.Is(err, notify.ErrBelowThreshold):
		p.metrics.Suppressed("below_threshold")
		log.Debug("urgency below user threshold")
		return
	case errors.Is(err, notify.ErrNotInterested):
		p.metrics.Suppressed("not_interested")
		log.Debug("user not interested")
		return
	case err != nil:
		log.Warn("generate notification failed", zap.Error(err))
		return
	}

	if pref.BatchMode && p.batcher != nil && p.batcher.Add(userID, msg) {
		log.Debug("notification queued for batch")
		return
	}

	if _, err := p.opts.Notifier.Send(ctx, userID, msg); err != nil {
		log.Warn("send notification failed", zap.Error(err))
	}
}

func (p *Pipeline) flushBatch(userID string, msgs []model.NotificationMessage) {
	if _, err := p.opts.Notifier.SendBatch(p.ctx, userID, msgs); err != nil {
		p.logger.Warn("send batch failed", zap.String("user_id", userID), zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

// Close refuses new logs, waits for in-flight work and flushes pending batches.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	if p.batcher != nil {
		p.batcher.Close()
	}
	p.cancel()
}
