package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	Active Status = "ACTIVE"
	OptOut Status = "OPTOUT"
)

type Subscriber struct {
	ID        int64
	Phone     string
	Status    Status
	Name      string
	FirstName string
	LastName  string
	Email     string

	// Brands holds the per-brand subscription flags.
	Brands BrandSet

	// Timezone is empty when no zone has been resolved yet.
	Timezone       string
	LastEngagement *time.Time

	Clicks    int
	Purchases int
	Revenue   decimal.Decimal

	AcqSource   string
	AcqCampaign string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Recent is the subscriber's SentLog history inside the run's history
	// window, newest first. Loaded alongside the subscriber by the queue.
	Recent []SentLog
}

func (s *Subscriber) HasPurchased() bool {
	return s.Purchases > 0 || s.Revenue.IsPositive()
}

// LastActive is the engagement anchor: last engagement, or creation if the
// subscriber never engaged.
func (s *Subscriber) LastActive() time.Time {
	if s.LastEngagement != nil {
		return *s.LastEngagement
	}
	return s.CreatedAt
}

// Contact is one record of a provider's opted-in list.
type Contact struct {
	Phone     string
	FirstName string
	LastName  string
	Email     string
	Keyword   string
}
