package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/cache"
	"github.com/LeventeLantos/promo-dispatch/internal/eligibility"
	"github.com/LeventeLantos/promo-dispatch/internal/metrics"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/segment"
	"github.com/LeventeLantos/promo-dispatch/internal/selector"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

type QueueOptions struct {
	PageSize    int
	Yield       time.Duration
	HistoryDays int
}

type QueueDeps struct {
	Subscribers repo.SubscriberRepository
	SentLogs    repo.SentLogRepository
	Segments    repo.SegmentRepository
	Configs     repo.ConfigRepository
	Providers   *Registry
	Locator     *eligibility.Locator
	Engine      *eligibility.Engine
	Selector    *selector.Selector
	Dispatcher  *Dispatcher
	State       cache.RunState
}

// RunStats summarizes one queue run.
type RunStats struct {
	RunID     string
	Batches   int
	Evaluated int
	Eligible  int
	Delivered int
	OptedOut  int
	Failed    int
	Cursor    int64
	// Stopped is the configuration gate that ended the run early, if any.
	Stopped error
}

// QueueProcessor drains the active subscriber base through the eligibility
// gates, the selector and dispatch.
type QueueProcessor struct {
	deps   QueueDeps
	opts   QueueOptions
	logger *zap.Logger
	now    func() time.Time

	running sync.Mutex
}

func NewQueueProcessor(deps QueueDeps, opts QueueOptions, logger *zap.Logger) *QueueProcessor {
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 30
	}
	if deps.State == nil {
		deps.State = cache.Nop{}
	}
	return &QueueProcessor{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Run reads the run configuration once. Gate failures and provider errors
// do not fail the run; store errors do. Overlapping runs are refused with
// ErrRunInProgress.
func (q *QueueProcessor) Run(ctx context.Context) (RunStats, error) {
	if !q.running.TryLock() {
		return RunStats{}, ErrRunInProgress
	}
	defer q.running.Unlock()

	stats := RunStats{RunID: uuid.NewString()}
	log := q.logger.With(zap.String("run_id", stats.RunID))

	stats, err := q.run(ctx, log, stats)
	switch {
	case err != nil:
		metrics.QueueRuns.WithLabelValues("error").Inc()
		log.Error("queue run failed", zap.Error(err), zap.Int64("cursor", stats.Cursor))
	case stats.Stopped != nil:
		metrics.QueueRuns.WithLabelValues("gated").Inc()
	default:
		metrics.QueueRuns.WithLabelValues("ok").Inc()
		log.Info("queue run finished",
			zap.Int("batches", stats.Batches),
			zap.Int("evaluated", stats.Evaluated),
			zap.Int("eligible", stats.Eligible),
			zap.Int("delivered", stats.Delivered),
			zap.Int("opted_out", stats.OptedOut),
			zap.Int("failed", stats.Failed),
			zap.Int64("cursor", stats.Cursor),
		)
	}
	return stats, err
}

func (q *QueueProcessor) run(ctx context.Context, log *zap.Logger, stats RunStats) (RunStats, error) {
	cfg, err := q.deps.Configs.Load(ctx)
	if err != nil {
		return stats, fmt.Errorf("load run config: %w", err)
	}

	if !cfg.SendingEnabled {
		log.Info("sending disabled, skipping queue run")
		stats.Stopped = ErrSendingDisabled
		return stats, nil
	}

	remaining := -1
	if cfg.GlobalDailyCap > 0 {
		dayStart := eligibility.StartOfDay(q.now().In(q.deps.Locator.Fallback()))
		sent, err := q.deps.SentLogs.CountSince(ctx, dayStart)
		if err != nil {
			return stats, fmt.Errorf("count sends today: %w", err)
		}
		if sent >= cfg.GlobalDailyCap {
			log.Warn("global daily cap reached, stopping", zap.Int("sent", sent), zap.Int("cap", cfg.GlobalDailyCap))
			stats.Stopped = ErrDailyCapReached
			return stats, nil
		}
		remaining = cfg.GlobalDailyCap - sent
	}

	provider, err := q.deps.Providers.Get(cfg.Provider)
	if err != nil {
		return stats, err
	}

	matcher, err := q.segment(ctx, log, cfg)
	if err != nil {
		return stats, err
	}

	whitelist := testWhitelist(cfg)
	stats.Cursor = cfg.QueueMinID
	if stats.Cursor > 0 {
		log.Info("starting from configured cursor", zap.Int64("cursor", stats.Cursor))
	}

	for {
		now := q.now()
		page, err := q.deps.Subscribers.ListActiveAfter(ctx, stats.Cursor, q.opts.PageSize, now.AddDate(0, 0, -q.opts.HistoryDays))
		if err != nil {
			return stats, fmt.Errorf("list subscribers after %d: %w", stats.Cursor, err)
		}
		if len(page) == 0 {
			return stats, nil
		}
		stats.Batches++

		for i := range page {
			sub := &page[i]
			if whitelist != nil && !whitelist[timezone.Normalize(sub.Phone)] {
				continue
			}
			if matcher != nil && !matcher.Matches(sub, now) {
				continue
			}

			stats.Evaluated++
			metrics.SubscribersEvaluated.Inc()

			if v := q.deps.Engine.Check(sub, cfg, now); !v.Eligible {
				log.Debug("subscriber not eligible", zap.Int64("subscriber_id", sub.ID), zap.String("gate", string(v.Gate)))
				continue
			}
			stats.Eligible++

			msg, err := q.deps.Selector.Select(ctx, sub, cfg, now)
			if err != nil {
				return stats, fmt.Errorf("select message for subscriber %d: %w", sub.ID, err)
			}
			if msg == nil {
				log.Debug("no message available", zap.Int64("subscriber_id", sub.ID))
				continue
			}

			outcome, err := q.deps.Dispatcher.Dispatch(ctx, provider, sub, msg, cfg)
			var perr *ProviderError
			switch {
			case errors.As(err, &perr):
				stats.Failed++
				continue
			case err != nil:
				return stats, err
			}

			switch {
			case outcome.Delivered():
				stats.Delivered++
				if remaining > 0 {
					remaining--
				}
			case outcome == OutcomeOptedOut:
				stats.OptedOut++
			}

			if remaining == 0 {
				stats.Cursor = sub.ID
				q.checkpoint(ctx, log, stats.Cursor)
				log.Warn("global daily cap reached during run, stopping", zap.Int("cap", cfg.GlobalDailyCap))
				stats.Stopped = ErrDailyCapReached
				return stats, nil
			}
		}

		// The cursor moves past the whole page even when every row was
		// filtered out.
		stats.Cursor = page[len(page)-1].ID
		q.checkpoint(ctx, log, stats.Cursor)

		if len(page) < q.opts.PageSize {
			return stats, nil
		}
		if err := sleep(ctx, q.opts.Yield); err != nil {
			return stats, err
		}
	}
}

func (q *QueueProcessor) segment(ctx context.Context, log *zap.Logger, cfg model.RunConfig) (*segment.Matcher, error) {
	if cfg.ActiveSegmentID == 0 {
		return nil, nil
	}
	seg, err := q.deps.Segments.Get(ctx, cfg.ActiveSegmentID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn("active segment not found, not filtering", zap.Int64("segment_id", cfg.ActiveSegmentID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load segment %d: %w", cfg.ActiveSegmentID, err)
	}
	if !seg.IsActive {
		return nil, nil
	}
	return segment.Compile(*seg, log), nil
}

func (q *QueueProcessor) checkpoint(ctx context.Context, log *zap.Logger, cursor int64) {
	if err := q.deps.State.SaveCheckpoint(ctx, cache.QueueCursorKey, cursor); err != nil {
		log.Warn("save queue checkpoint failed", zap.Int64("cursor", cursor), zap.Error(err))
	}
}

// testWhitelist returns nil when test mode is off.
func testWhitelist(cfg model.RunConfig) map[string]bool {
	if !cfg.TestMode {
		return nil
	}
	out := make(map[string]bool, len(cfg.TestNumbers))
	for _, n := range cfg.TestNumbers {
		if n = timezone.Normalize(n); n != "" {
			out[n] = true
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
