package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/LeventeLantos/promo-dispatch/internal/cache"
	"github.com/LeventeLantos/promo-dispatch/internal/metrics"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

// KeywordRule enrolls a contact in Brand when its opt-in keyword contains
// Keyword, compared case-insensitively.
type KeywordRule struct {
	Keyword string
	Brand   model.Brand
}

type SyncOptions struct {
	BatchSize     int
	Concurrency   int
	FallbackZone  string
	DefaultListID string
	Keywords      []KeywordRule
	DefaultBrands []model.Brand
}

type SyncStats struct {
	RunID    string
	Fetched  int
	Skipped  int
	Resumed  int
	Inserted int
	Updated  int
	Failed   int
	Unmapped int
}

// SyncEngine mirrors the provider's opted-in list into the subscriber table.
// It never removes rows or changes a subscriber's status.
type SyncEngine struct {
	subs      repo.SubscriberRepository
	configs   repo.ConfigRepository
	providers *Registry
	resolver  *timezone.Resolver
	state     cache.RunState
	opts      SyncOptions
	logger    *zap.Logger

	running sync.Mutex
}

func NewSyncEngine(
	subs repo.SubscriberRepository,
	configs repo.ConfigRepository,
	providers *Registry,
	resolver *timezone.Resolver,
	state cache.RunState,
	opts SyncOptions,
	logger *zap.Logger,
) *SyncEngine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 10
	}
	if state == nil {
		state = cache.Nop{}
	}
	return &SyncEngine{
		subs:      subs,
		configs:   configs,
		providers: providers,
		resolver:  resolver,
		state:     state,
		opts:      opts,
		logger:    logger,
	}
}

// Sync streams the configured list and upserts it batch by batch. A failed
// upsert is logged and counted; a failed fetch ends the run with an error.
func (e *SyncEngine) Sync(ctx context.Context) (SyncStats, error) {
	if !e.running.TryLock() {
		return SyncStats{}, ErrRunInProgress
	}
	defer e.running.Unlock()

	stats := SyncStats{RunID: uuid.NewString()}
	log := e.logger.With(zap.String("run_id", stats.RunID))

	cfg, err := e.configs.Load(ctx)
	if err != nil {
		return stats, fmt.Errorf("load run config: %w", err)
	}
	provider, err := e.providers.Get(cfg.Provider)
	if err != nil {
		return stats, err
	}
	listID := cfg.SourceListID
	if listID == "" {
		listID = e.opts.DefaultListID
	}

	log.Info("sync started", zap.String("provider", provider.Name()), zap.String("list_id", listID), zap.Int("skip", cfg.SyncSkip))

	r := &syncRun{
		engine: e,
		log:    log,
		stats:  &stats,
		skip:   cfg.SyncSkip,
		fold:   cases.Fold(),
		batch:  make([]repo.SubscriberUpsert, 0, e.opts.BatchSize),
	}

	fetch, err := provider.FetchOptedIn(ctx, listID, func(c model.Contact) error {
		return r.add(ctx, c)
	})
	if err == nil {
		err = r.flush(ctx)
	}
	stats.Fetched = fetch.Records
	stats.Skipped = fetch.Skipped
	if err != nil {
		metrics.SyncContacts.WithLabelValues("aborted").Inc()
		log.Error("sync aborted", zap.Error(err), zap.Int("offset", r.offset))
		return stats, fmt.Errorf("sync list %s: %w", listID, err)
	}

	log.Info("sync completed",
		zap.Int("fetched", stats.Fetched),
		zap.Int("skipped", stats.Skipped),
		zap.Int("resumed_past", stats.Resumed),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
		zap.Int("unmapped", stats.Unmapped),
	)
	return stats, nil
}

type syncRun struct {
	engine *SyncEngine
	log    *zap.Logger
	stats  *SyncStats
	skip   int
	offset int
	fold   cases.Caser
	batch  []repo.SubscriberUpsert
}

func (r *syncRun) add(ctx context.Context, c model.Contact) error {
	r.offset++
	if r.offset <= r.skip {
		r.stats.Resumed++
		return nil
	}

	r.batch = append(r.batch, r.engine.toUpsert(ctx, r.log, c, r.fold, r.stats))
	if len(r.batch) < r.engine.opts.BatchSize {
		return nil
	}
	return r.flush(ctx)
}

func (r *syncRun) flush(ctx context.Context) error {
	if len(r.batch) == 0 {
		return nil
	}

	var inserted, updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.opts.Concurrency)
	for _, u := range r.batch {
		g.Go(func() error {
			created, err := r.engine.subs.Upsert(gctx, u)
			switch {
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				metrics.SyncContacts.WithLabelValues("failed").Inc()
				r.log.Warn("upsert subscriber failed", zap.String("phone", u.Phone), zap.Error(err))
			case created:
				inserted.Add(1)
				metrics.SyncContacts.WithLabelValues("inserted").Inc()
			default:
				updated.Add(1)
				metrics.SyncContacts.WithLabelValues("updated").Inc()
			}
			return nil
		})
	}
	err := g.Wait()

	r.stats.Inserted += int(inserted.Load())
	r.stats.Updated += int(updated.Load())
	r.stats.Failed += int(failed.Load())
	r.batch = r.batch[:0]
	if err != nil {
		return err
	}

	if err := r.engine.state.SaveCheckpoint(ctx, cache.SyncOffsetKey, int64(r.offset)); err != nil {
		r.log.Warn("save sync checkpoint failed", zap.Int("offset", r.offset), zap.Error(err))
	}
	r.log.Debug("sync batch done", zap.Int("offset", r.offset))
	return nil
}

func (e *SyncEngine) toUpsert(ctx context.Context, log *zap.Logger, c model.Contact, fold cases.Caser, stats *SyncStats) repo.SubscriberUpsert {
	phone := timezone.Normalize(c.Phone)

	tz := e.resolver.Resolve(phone)
	if tz == timezone.Unknown {
		tz = e.opts.FallbackZone
		stats.Unmapped++
		e.recordUnmapped(ctx, log, phone)
	}

	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		name = "Subscriber"
	}

	return repo.SubscriberUpsert{
		Phone:     phone,
		Name:      name,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Brands:    e.brandsFor(c.Keyword, fold),
		Timezone:  tz,
	}
}

func (e *SyncEngine) recordUnmapped(ctx context.Context, log *zap.Logger, phone string) {
	code, ok := timezone.AreaCode(phone)
	if !ok {
		return
	}
	first, err := e.state.RecordUnmapped(ctx, code)
	if err != nil {
		log.Warn("record unmapped area code failed", zap.String("area_code", code), zap.Error(err))
		return
	}
	if first {
		log.Warn("unmapped area code, using fallback zone", zap.String("area_code", code), zap.String("zone", e.opts.FallbackZone))
	}
}

func (e *SyncEngine) brandsFor(keyword string, fold cases.Caser) model.BrandSet {
	kw := fold.String(keyword)
	var matched []model.Brand
	for _, rule := range e.opts.Keywords {
		if rule.Keyword != "" && strings.Contains(kw, fold.String(rule.Keyword)) {
			matched = append(matched, rule.Brand)
		}
	}
	if len(matched) == 0 {
		matched = e.opts.DefaultBrands
	}
	return model.NewBrandSet(matched...)
}
