package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type PostgresSubscriberRepo struct {
	db *sql.DB
}

func NewPostgresSubscriberRepo(db *sql.DB) *PostgresSubscriberRepo {
	return &PostgresSubscriberRepo{db: db}
}

const subscriberColumns = `
	id, phone, status, name, first_name, last_name, email, brands, timezone,
	last_engagement, clicks, purchases, revenue, acq_source, acq_campaign,
	created_at, updated_at`

func (r *PostgresSubscriberRepo) ListActiveAfter(ctx context.Context, cursor int64, limit int, historySince time.Time) ([]model.Subscriber, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers
		WHERE status = 'ACTIVE' AND id > $1
		ORDER BY id ASC
		LIMIT $2
	`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachHistory(ctx, subs, historySince); err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *PostgresSubscriberRepo) GetByPhone(ctx context.Context, phone string, historySince time.Time) (*model.Subscriber, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers
		WHERE phone = $1
	`, phone)

	s, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	subs := []model.Subscriber{*s}
	if err := r.attachHistory(ctx, subs, historySince); err != nil {
		return nil, err
	}
	return &subs[0], nil
}

// attachHistory loads the send logs of a whole page in one query.
func (r *PostgresSubscriberRepo) attachHistory(ctx context.Context, subs []model.Subscriber, since time.Time) error {
	if len(subs) == 0 {
		return nil
	}

	ids := make([]int64, len(subs))
	index := make(map[int64]int, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
		index[s.ID] = i
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscriber_id, message_id, brand, sent_at
		FROM sent_logs
		WHERE subscriber_id = ANY($1) AND sent_at >= $2
		ORDER BY sent_at DESC
	`, ids, since)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.SentLog
		var brand string
		if err := rows.Scan(&l.ID, &l.SubscriberID, &l.MessageID, &brand, &l.SentAt); err != nil {
			return err
		}
		l.Brand = model.Brand(brand)
		i := index[l.SubscriberID]
		subs[i].Recent = append(subs[i].Recent, l)
	}
	return rows.Err()
}

func (r *PostgresSubscriberRepo) Upsert(ctx context.Context, u SubscriberUpsert) (bool, error) {
	brands, err := json.Marshal(u.Brands)
	if err != nil {
		return false, err
	}

	var tz sql.NullString
	if u.Timezone != "" {
		tz = sql.NullString{String: u.Timezone, Valid: true}
	}

	var inserted bool
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (phone, status, name, first_name, last_name, email, brands, timezone)
		VALUES ($1, 'ACTIVE', $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE
		SET brands     = EXCLUDED.brands,
		    timezone   = EXCLUDED.timezone,
		    name       = EXCLUDED.name,
		    first_name = EXCLUDED.first_name,
		    last_name  = EXCLUDED.last_name,
		    email      = COALESCE(NULLIF(EXCLUDED.email, ''), subscribers.email),
		    updated_at = now()
		RETURNING (xmax = 0)
	`, u.Phone, u.Name, u.FirstName, u.LastName, u.Email, brands, tz).Scan(&inserted)
	return inserted, err
}

func (r *PostgresSubscriberRepo) MarkOptOut(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscribers
		SET status = 'OPTOUT', updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(sc scanner) (*model.Subscriber, error) {
	var (
		s          model.Subscriber
		status     string
		brands     []byte
		tz         sql.NullString
		engagement sql.NullTime
	)
	if err := sc.Scan(
		&s.ID,
		&s.Phone,
		&status,
		&s.Name,
		&s.FirstName,
		&s.LastName,
		&s.Email,
		&brands,
		&tz,
		&engagement,
		&s.Clicks,
		&s.Purchases,
		&s.Revenue,
		&s.AcqSource,
		&s.AcqCampaign,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}

	s.Status = model.Status(status)
	s.Brands = model.BrandSet{}
	if len(brands) > 0 {
		if err := json.Unmarshal(brands, &s.Brands); err != nil {
			return nil, fmt.Errorf("subscriber %d brands: %w", s.ID, err)
		}
	}
	if tz.Valid {
		s.Timezone = tz.String
	}
	if engagement.Valid {
		t := engagement.Time
		s.LastEngagement = &t
	}
	return &s, nil
}
