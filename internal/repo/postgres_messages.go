package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageSelect = `
	SELECT m.id, m.name, m.content, m.brand, m.cooldown_days, m.active,
	       c.id, c.name, c.max_impressions_per_week
	FROM messages m
	LEFT JOIN campaigns c ON c.id = m.campaign_id`

func (r *PostgresMessageRepo) ActiveByBrands(ctx context.Context, brands []model.Brand) ([]model.Message, error) {
	if len(brands) == 0 {
		return nil, nil
	}
	names := make([]string, len(brands))
	for i, b := range brands {
		names[i] = string(b)
	}
	return r.query(ctx, messageSelect+`
		WHERE m.active AND m.brand = ANY($1)
		ORDER BY m.id
	`, names)
}

func (r *PostgresMessageRepo) ListActive(ctx context.Context) ([]model.Message, error) {
	return r.query(ctx, messageSelect+`
		WHERE m.active
		ORDER BY m.id
	`)
}

func (r *PostgresMessageRepo) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	msgs, err := r.query(ctx, messageSelect+`
		WHERE m.id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

func (r *PostgresMessageRepo) CampaignImpressions(ctx context.Context, subscriberID, campaignID int64, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM sent_logs l
		JOIN messages m ON m.id = l.message_id
		WHERE l.subscriber_id = $1 AND m.campaign_id = $2 AND l.sent_at >= $3
	`, subscriberID, campaignID, since).Scan(&n)
	return n, err
}

func (r *PostgresMessageRepo) LastSentAt(ctx context.Context, subscriberID, messageID int64) (time.Time, bool, error) {
	var at time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT sent_at
		FROM sent_logs
		WHERE subscriber_id = $1 AND message_id = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`, subscriberID, messageID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (r *PostgresMessageRepo) query(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m          model.Message
			brand      string
			campaignID sql.NullInt64
			name       sql.NullString
			maxPerWeek sql.NullInt32
		)
		if err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Content,
			&brand,
			&m.CooldownDays,
			&m.Active,
			&campaignID,
			&name,
			&maxPerWeek,
		); err != nil {
			return nil, err
		}
		m.Brand = model.Brand(brand)
		if campaignID.Valid {
			m.Campaign = &model.Campaign{
				ID:                    campaignID.Int64,
				Name:                  name.String,
				MaxImpressionsPerWeek: int(maxPerWeek.Int32),
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
