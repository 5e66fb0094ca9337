package model

import "time"

type Message struct {
	ID   int64
	Name string

	Content      string
	Brand        Brand
	CooldownDays int
	Active       bool

	Campaign *Campaign
}

type Campaign struct {
	ID                    int64
	Name                  string
	MaxImpressionsPerWeek int
}

// SentLog is append-only: it is both the delivery audit trail and the
// source of truth for cooldowns and caps.
type SentLog struct {
	ID           int64
	SubscriberID int64
	MessageID    int64
	Brand        Brand
	SentAt       time.Time
}

type Segment struct {
	ID       int64
	Name     string
	Rules    []byte
	IsActive bool
}
