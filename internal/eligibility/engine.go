// Package eligibility decides whether a subscriber may be messaged right now.
package eligibility

import (
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

const (
	windowOpenHour  = 8
	windowCloseHour = 20
)

// Gate names the check that rejected a subscriber.
type Gate string

const (
	GateNone        Gate = ""
	GateLocalHour   Gate = "local_hour"
	GateMinInterval Gate = "min_interval"
	GateSchedule    Gate = "schedule_slot"
	GatePacing      Gate = "hourly_pacing"
	GateEngagement  Gate = "engagement_window"
)

type Verdict struct {
	Eligible bool
	Gate     Gate
}

func pass() Verdict       { return Verdict{Eligible: true} }
func fail(g Gate) Verdict { return Verdict{Gate: g} }

// Engine runs the ordered gate chain. It reads only its arguments and the
// subscriber's preloaded history.
type Engine struct {
	locator *Locator
}

func NewEngine(locator *Locator) *Engine {
	return &Engine{locator: locator}
}

func (e *Engine) IsEligible(s *model.Subscriber, cfg model.RunConfig, now time.Time) bool {
	return e.Check(s, cfg, now).Eligible
}

func (e *Engine) Check(s *model.Subscriber, cfg model.RunConfig, now time.Time) Verdict {
	loc := e.locator.For(s)
	local := now.In(loc)

	if h := local.Hour(); h < windowOpenHour || h >= windowCloseHour {
		return fail(GateLocalHour)
	}

	last, hasLast := latest(s.Recent)

	if cfg.MinIntervalMinutes > 0 && hasLast {
		if now.Sub(last) < time.Duration(cfg.MinIntervalMinutes)*time.Minute {
			return fail(GateMinInterval)
		}
	}

	dayStart := StartOfDay(local)
	if slots := AllSlots(cfg); len(slots) > 0 {
		if !openSlot(s.Recent, slots, local, dayStart, loc) {
			return fail(GateSchedule)
		}
	} else if hasLast && !last.Before(dayStart) && now.Sub(last) < time.Hour {
		return fail(GatePacing)
	}

	if cfg.EngagementWindowEnabled {
		days := int(now.Sub(s.LastActive()) / (24 * time.Hour))
		if days > cfg.WindowDays() {
			return fail(GateEngagement)
		}
	}

	return pass()
}

// openSlot reports whether local time is near a slot that has not been used
// yet today.
func openSlot(logs []model.SentLog, slots []int, local, dayStart time.Time, loc *time.Location) bool {
	minute := MinuteOfDay(local)
	for _, slot := range slots {
		if !NearSlot(minute, slot, GateSlotTolerance) {
			continue
		}
		if !SlotUsed(logs, slot, dayStart, loc) {
			return true
		}
	}
	return false
}

func latest(logs []model.SentLog) (time.Time, bool) {
	var t time.Time
	for _, l := range logs {
		if l.SentAt.After(t) {
			t = l.SentAt
		}
	}
	return t, !t.IsZero()
}
