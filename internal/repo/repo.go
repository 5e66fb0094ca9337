// Package repo persists subscribers, messages, the append-only send log and
// the run configuration in Postgres.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

var ErrNotFound = errors.New("not found")

// SubscriberUpsert is the part of a subscriber the list sync owns.
type SubscriberUpsert struct {
	Phone     string
	Name      string
	FirstName string
	LastName  string
	Email     string
	Brands    model.BrandSet
	Timezone  string
}

type SubscriberRepository interface {
	// ListActiveAfter pages ACTIVE subscribers by ascending id, each with its
	// send history since historySince attached newest first.
	ListActiveAfter(ctx context.Context, cursor int64, limit int, historySince time.Time) ([]model.Subscriber, error)
	GetByPhone(ctx context.Context, phone string, historySince time.Time) (*model.Subscriber, error)
	Upsert(ctx context.Context, u SubscriberUpsert) (inserted bool, err error)
	MarkOptOut(ctx context.Context, id int64) error
}

type MessageRepository interface {
	ActiveByBrands(ctx context.Context, brands []model.Brand) ([]model.Message, error)
	ListActive(ctx context.Context) ([]model.Message, error)
	GetByID(ctx context.Context, id int64) (*model.Message, error)
	CampaignImpressions(ctx context.Context, subscriberID, campaignID int64, since time.Time) (int, error)
	LastSentAt(ctx context.Context, subscriberID, messageID int64) (time.Time, bool, error)
}

type SentLogRepository interface {
	Insert(ctx context.Context, l *model.SentLog) error
	CountSince(ctx context.Context, since time.Time) (int, error)
	ListRecent(ctx context.Context, limit, offset int) ([]model.SentLog, error)
}

type ConfigRepository interface {
	Load(ctx context.Context) (model.RunConfig, error)
}

type SegmentRepository interface {
	Get(ctx context.Context, id int64) (*model.Segment, error)
}
