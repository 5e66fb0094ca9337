package eligibility

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

const (
	// GateSlotTolerance is how close to a slot the gate chain accepts a send.
	GateSlotTolerance = 3
	// BrandSlotTolerance is the tighter per-brand window used by selection.
	BrandSlotTolerance = 1
	// SlotDedupWindow: a send this close to a slot consumes that slot for the day.
	SlotDedupWindow = 45
)

// ParseSlots parses a comma-separated list of HH:MM local times into
// minutes after midnight. Malformed entries are dropped.
func ParseSlots(schedule string) []int {
	var out []int
	for _, part := range strings.Split(schedule, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hh, mm, found := strings.Cut(part, ":")
		if !found {
			continue
		}
		h, err1 := strconv.Atoi(hh)
		m, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			continue
		}
		out = append(out, h*60+m)
	}
	return out
}

// AllSlots collects the slots of every configured brand.
func AllSlots(cfg model.RunConfig) []int {
	brands := make([]model.Brand, 0, len(cfg.Brands))
	for b := range cfg.Brands {
		brands = append(brands, b)
	}
	sort.Slice(brands, func(i, j int) bool { return brands[i] < brands[j] })

	var out []int
	for _, b := range brands {
		out = append(out, ParseSlots(cfg.Schedule(b))...)
	}
	return out
}

func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// NearSlot reports whether minute is within tolerance of slot.
func NearSlot(minute, slot, tolerance int) bool {
	return abs(minute-slot) <= tolerance
}

// SlotUsed reports whether any of logs, read in loc, falls inside the dedup
// window around slot on or after dayStart.
func SlotUsed(logs []model.SentLog, slot int, dayStart time.Time, loc *time.Location) bool {
	for _, l := range logs {
		if l.SentAt.Before(dayStart) {
			continue
		}
		if NearSlot(MinuteOfDay(l.SentAt.In(loc)), slot, SlotDedupWindow) {
			return true
		}
	}
	return false
}
