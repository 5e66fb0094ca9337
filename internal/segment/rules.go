// Package segment evaluates declarative audience rules against subscribers.
package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

// Rule is one predicate of a segment. All rules of a segment must hold.
type Rule interface {
	Match(s *model.Subscriber, now time.Time) bool
}

type CreatedWithinDays struct{ Days int }

func (r CreatedWithinDays) Match(s *model.Subscriber, now time.Time) bool {
	return wholeDays(now.Sub(s.CreatedAt)) <= r.Days
}

type HasPurchased struct{ Want bool }

func (r HasPurchased) Match(s *model.Subscriber, _ time.Time) bool {
	return s.HasPurchased() == r.Want
}

type IsEngaged struct{ Want bool }

func (r IsEngaged) Match(s *model.Subscriber, _ time.Time) bool {
	return (s.LastEngagement != nil) == r.Want
}

type AcqSource struct{ Value string }

func (r AcqSource) Match(s *model.Subscriber, _ time.Time) bool {
	return s.AcqSource == r.Value
}

type AcqCampaign struct{ Value string }

func (r AcqCampaign) Match(s *model.Subscriber, _ time.Time) bool {
	return s.AcqCampaign == r.Value
}

// payload is the stored JSON shape of a segment's rules.
type payload struct {
	CreatedInLastDays *int   `json:"createdInLastDays"`
	HasPurchased      *bool  `json:"hasPurchased"`
	IsEngaged         *bool  `json:"isEngaged"`
	AcqSource         string `json:"acqSource"`
	AcqCampaign       string `json:"acqCampaign"`
}

// Parse decodes a rules payload. Empty payloads yield no rules.
func Parse(raw []byte) ([]Rule, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid segment rules: %w", err)
	}

	var rules []Rule
	if p.CreatedInLastDays != nil {
		rules = append(rules, CreatedWithinDays{Days: *p.CreatedInLastDays})
	}
	if p.HasPurchased != nil {
		rules = append(rules, HasPurchased{Want: *p.HasPurchased})
	}
	if p.IsEngaged != nil {
		rules = append(rules, IsEngaged{Want: *p.IsEngaged})
	}
	if p.AcqSource != "" {
		rules = append(rules, AcqSource{Value: p.AcqSource})
	}
	if p.AcqCampaign != "" {
		rules = append(rules, AcqCampaign{Value: p.AcqCampaign})
	}
	return rules, nil
}

func wholeDays(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
