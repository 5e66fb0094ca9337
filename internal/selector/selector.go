// Package selector picks the message an eligible subscriber receives.
package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/eligibility"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

const campaignWindow = 7 * 24 * time.Hour

type Store interface {
	ActiveByBrands(ctx context.Context, brands []model.Brand) ([]model.Message, error)
	CampaignImpressions(ctx context.Context, subscriberID, campaignID int64, since time.Time) (int, error)
	LastSentAt(ctx context.Context, subscriberID, messageID int64) (time.Time, bool, error)
}

type Selector struct {
	store       Store
	locator     *eligibility.Locator
	historyDays int
	shuffle     func([]model.Message)
}

type Option func(*Selector)

func WithShuffle(fn func([]model.Message)) Option {
	return func(s *Selector) { s.shuffle = fn }
}

// historyDays is how far back the preloaded history reaches; longer
// cooldowns are checked against the store.
func New(store Store, locator *eligibility.Locator, historyDays int, opts ...Option) *Selector {
	s := &Selector{
		store:       store,
		locator:     locator,
		historyDays: historyDays,
		shuffle: func(msgs []model.Message) {
			rand.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select returns nil when no brand has room or every candidate is cooling
// down or capped.
func (s *Selector) Select(ctx context.Context, sub *model.Subscriber, cfg model.RunConfig, now time.Time) (*model.Message, error) {
	brands := s.EligibleBrands(sub, cfg, now)
	if len(brands) == 0 {
		return nil, nil
	}

	msgs, err := s.store.ActiveByBrands(ctx, brands)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	s.shuffle(msgs)

	for i := range msgs {
		m := &msgs[i]

		cooling, err := s.coolingDown(ctx, sub, m, now)
		if err != nil {
			return nil, err
		}
		if cooling {
			continue
		}

		capped, err := s.campaignCapped(ctx, sub, m, now)
		if err != nil {
			return nil, err
		}
		if capped {
			continue
		}
		return m, nil
	}
	return nil, nil
}

// EligibleBrands returns the subscribed brands that are under their daily
// limit and, when scheduled, sitting on an unused slot.
func (s *Selector) EligibleBrands(sub *model.Subscriber, cfg model.RunConfig, now time.Time) []model.Brand {
	loc := s.locator.For(sub)
	local := now.In(loc)
	dayStart := eligibility.StartOfDay(local)
	minute := eligibility.MinuteOfDay(local)

	var out []model.Brand
	for _, b := range sub.Brands.List() {
		logs := brandLogs(sub.Recent, b, dayStart)
		if len(logs) >= cfg.DailyLimit(b) {
			continue
		}
		slots := eligibility.ParseSlots(cfg.Schedule(b))
		if len(slots) > 0 && !slotOpen(logs, slots, minute, dayStart, loc) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func slotOpen(logs []model.SentLog, slots []int, minute int, dayStart time.Time, loc *time.Location) bool {
	for _, slot := range slots {
		if eligibility.NearSlot(minute, slot, eligibility.BrandSlotTolerance) &&
			!eligibility.SlotUsed(logs, slot, dayStart, loc) {
			return true
		}
	}
	return false
}

func brandLogs(logs []model.SentLog, b model.Brand, since time.Time) []model.SentLog {
	var out []model.SentLog
	for _, l := range logs {
		if l.Brand == b && !l.SentAt.Before(since) {
			out = append(out, l)
		}
	}
	return out
}

func (s *Selector) coolingDown(ctx context.Context, sub *model.Subscriber, m *model.Message, now time.Time) (bool, error) {
	if m.CooldownDays <= 0 {
		return false, nil
	}
	cutoff := now.Add(-time.Duration(m.CooldownDays) * 24 * time.Hour)

	if m.CooldownDays <= s.historyDays {
		for _, l := range sub.Recent {
			if l.MessageID == m.ID && !l.SentAt.Before(cutoff) {
				return true, nil
			}
		}
		return false, nil
	}

	last, found, err := s.store.LastSentAt(ctx, sub.ID, m.ID)
	if err != nil {
		return false, fmt.Errorf("last send of message %d: %w", m.ID, err)
	}
	return found && !last.Before(cutoff), nil
}

func (s *Selector) campaignCapped(ctx context.Context, sub *model.Subscriber, m *model.Message, now time.Time) (bool, error) {
	if m.Campaign == nil {
		return false, nil
	}
	n, err := s.store.CampaignImpressions(ctx, sub.ID, m.Campaign.ID, now.Add(-campaignWindow))
	if err != nil {
		return false, fmt.Errorf("campaign %d impressions: %w", m.Campaign.ID, err)
	}
	return n >= m.Campaign.MaxImpressionsPerWeek, nil
}
