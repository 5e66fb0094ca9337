package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LeventeLantos/promo-dispatch/internal/client"
	"github.com/LeventeLantos/promo-dispatch/internal/eligibility"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/selector"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

// memStore is an in-memory implementation of every repository the services
// use.
type memStore struct {
	mu sync.Mutex

	cfg      model.RunConfig
	subs     []model.Subscriber
	messages []model.Message
	logs     []model.SentLog
	segments map[int64]model.Segment

	pageCursors []int64
	listErr     error
	upsertErr   error
	upserts     []repo.SubscriberUpsert
}

func newMemStore(cfg model.RunConfig) *memStore {
	return &memStore{cfg: cfg, segments: map[int64]model.Segment{}}
}

func (m *memStore) addSubscriber(s model.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Status == "" {
		s.Status = model.Active
	}
	m.subs = append(m.subs, s)
	sort.Slice(m.subs, func(i, j int) bool { return m.subs[i].ID < m.subs[j].ID })
}

func (m *memStore) history(id int64, since time.Time) []model.SentLog {
	var out []model.SentLog
	for _, l := range m.logs {
		if l.SubscriberID == id && !l.SentAt.Before(since) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out
}

func (m *memStore) ListActiveAfter(_ context.Context, cursor int64, limit int, since time.Time) ([]model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCursors = append(m.pageCursors, cursor)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Subscriber
	for _, s := range m.subs {
		if s.ID <= cursor || s.Status != model.Active {
			continue
		}
		s.Recent = m.history(s.ID, since)
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) GetByPhone(_ context.Context, phone string, since time.Time) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.Phone == phone {
			s.Recent = m.history(s.ID, since)
			return &s, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) Upsert(ctx context.Context, u repo.SubscriberUpsert) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.upserts = append(m.upserts, u)
	for i := range m.subs {
		if m.subs[i].Phone == u.Phone {
			m.subs[i].Brands = u.Brands
			m.subs[i].Timezone = u.Timezone
			m.subs[i].Name = u.Name
			return false, nil
		}
	}
	m.subs = append(m.subs, model.Subscriber{
		ID:       int64(len(m.subs) + 1),
		Phone:    u.Phone,
		Status:   model.Active,
		Name:     u.Name,
		Brands:   u.Brands,
		Timezone: u.Timezone,
	})
	return true, nil
}

func (m *memStore) MarkOptOut(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subs {
		if m.subs[i].ID == id {
			m.subs[i].Status = model.OptOut
			return nil
		}
	}
	return repo.ErrNotFound
}

func (m *memStore) status(id int64) model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}

func (m *memStore) ActiveByBrands(_ context.Context, brands []model.Brand) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := model.NewBrandSet(brands...)
	var out []model.Message
	for _, msg := range m.messages {
		if msg.Active && want[msg.Brand] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) ListActive(_ context.Context) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.messages {
		if msg.Active {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return &msg, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (m *memStore) CampaignImpressions(context.Context, int64, int64, time.Time) (int, error) {
	return 0, nil
}

func (m *memStore) LastSentAt(_ context.Context, subscriberID, messageID int64) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last time.Time
	for _, l := range m.logs {
		if l.SubscriberID == subscriberID && l.MessageID == messageID && l.SentAt.After(last) {
			last = l.SentAt
		}
	}
	return last, !last.IsZero(), nil
}

func (m *memStore) Insert(_ context.Context, l *model.SentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memStore) CountSince(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.logs {
		if !l.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListRecent(_ context.Context, limit, offset int) ([]model.SentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.logs) {
		return nil, nil
	}
	end := min(offset+limit, len(m.logs))
	return append([]model.SentLog(nil), m.logs[offset:end]...), nil
}

func (m *memStore) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

func (m *memStore) Load(context.Context) (model.RunConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, nil
}

func (m *memStore) Get(_ context.Context, id int64) (*model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg, ok := m.segments[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &seg, nil
}

// fakeProvider records every call. Numbers in notOptedIn fail the live
// opt-in check.
type fakeProvider struct {
	mu sync.Mutex

	name       string
	notOptedIn map[string]bool
	sendErr    error
	checkErr   error
	contacts   []model.Contact
	fetchErr   error
	lists      []string

	checks int
	sends  []string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, notOptedIn: map[string]bool{}}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Send(_ context.Context, phone, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, phone)
	return "remote-" + phone, nil
}

func (f *fakeProvider) CheckOptIn(_ context.Context, phone string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	return !f.notOptedIn[phone], nil
}

func (f *fakeProvider) OptOut(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeProvider) FetchOptedIn(_ context.Context, listID string, fn client.ContactFunc) (client.FetchStats, error) {
	f.mu.Lock()
	f.lists = append(f.lists, listID)
	f.mu.Unlock()

	var stats client.FetchStats
	for _, c := range f.contacts {
		stats.Records++
		if err := fn(c); err != nil {
			return stats, err
		}
	}
	return stats, f.fetchErr
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks + len(f.sends)
}

// fakeState records checkpoints and unmapped area codes.
type fakeState struct {
	mu          sync.Mutex
	checkpoints map[string][]int64
	unmapped    map[string]bool
	receipts    int
	err         error
}

func newFakeState() *fakeState {
	return &fakeState{checkpoints: map[string][]int64{}, unmapped: map[string]bool{}}
}

func (s *fakeState) StoreSent(context.Context, int64, string, time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts++
	return s.err
}

func (s *fakeState) SaveCheckpoint(_ context.Context, key string, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.checkpoints[key] = append(s.checkpoints[key], v)
	return nil
}

func (s *fakeState) Checkpoint(_ context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.checkpoints[key]
	if len(vs) == 0 {
		return 0, false, nil
	}
	return vs[len(vs)-1], true, nil
}

func (s *fakeState) RecordUnmapped(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	first := !s.unmapped[code]
	s.unmapped[code] = true
	return first, nil
}

func (s *fakeState) Unmapped(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.unmapped))
	for code := range s.unmapped {
		out = append(out, code)
	}
	sort.Strings(out)
	return out, s.err
}

var errBoom = errors.New("boom")

var la = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		panic(err)
	}
	return loc
}()

// laNoon is mid-window for 213 numbers.
var laNoon = time.Date(2026, 7, 14, 12, 0, 0, 0, la)

func laPhone(n int) string {
	return fmt.Sprintf("213555%04d", n)
}

type harness struct {
	store    *memStore
	provider *fakeProvider
	state    *fakeState
	registry *Registry
	locator  *eligibility.Locator
	engine   *eligibility.Engine
	disp     *Dispatcher
	queue    *QueueProcessor
	direct   *DirectSendService
}

func newHarness(t *testing.T, cfg model.RunConfig, now time.Time, opts QueueOptions) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := newMemStore(cfg)
	provider := newFakeProvider("lime")
	state := newFakeState()
	registry := NewRegistry("lime", provider)

	locator, err := eligibility.NewLocator(timezone.NewResolver(), "America/New_York")
	require.NoError(t, err)
	engine := eligibility.NewEngine(locator)
	sel := selector.New(store, locator, 30, selector.WithShuffle(func([]model.Message) {}))

	disp := NewDispatcher(store, store, state, logger)
	disp.now = func() time.Time { return now }

	queue := NewQueueProcessor(QueueDeps{
		Subscribers: store,
		SentLogs:    store,
		Segments:    store,
		Configs:     store,
		Providers:   registry,
		Locator:     locator,
		Engine:      engine,
		Selector:    sel,
		Dispatcher:  disp,
		State:       state,
	}, opts, logger)
	queue.now = func() time.Time { return now }

	direct := NewDirectSendService(store, store, store, registry, engine, disp, 30, logger)
	direct.now = func() time.Time { return now }
	direct.pick = func(int) int { return 0 }

	return &harness{
		store:    store,
		provider: provider,
		state:    state,
		registry: registry,
		locator:  locator,
		engine:   engine,
		disp:     disp,
		queue:    queue,
		direct:   direct,
	}
}

func sendingConfig() model.RunConfig {
	return model.RunConfig{
		SendingEnabled: true,
		Brands: map[model.Brand]model.BrandSettings{
			model.BrandWSWD: {DailyLimit: 2},
			model.BrandTA:   {DailyLimit: 2},
		},
	}
}

func (h *harness) seed(n int) {
	for i := 1; i <= n; i++ {
		h.store.addSubscriber(model.Subscriber{
			ID:        int64(i),
			Phone:     laPhone(i),
			Brands:    model.NewBrandSet(model.BrandWSWD),
			CreatedAt: laNoon.AddDate(0, 0, -5),
		})
	}
	h.store.messages = []model.Message{
		{ID: 1, Name: "wswd-1", Content: "hello", Brand: model.BrandWSWD, Active: true},
	}
}
