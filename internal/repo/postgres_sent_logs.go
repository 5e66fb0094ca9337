package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type PostgresSentLogRepo struct {
	db *sql.DB
}

func NewPostgresSentLogRepo(db *sql.DB) *PostgresSentLogRepo {
	return &PostgresSentLogRepo{db: db}
}

// Insert appends one row. ID and SentAt are filled from the database when
// SentAt is zero.
func (r *PostgresSentLogRepo) Insert(ctx context.Context, l *model.SentLog) error {
	var sentAt any
	if !l.SentAt.IsZero() {
		sentAt = l.SentAt
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO sent_logs (subscriber_id, message_id, brand, sent_at)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, now()))
		RETURNING id, sent_at
	`, l.SubscriberID, l.MessageID, string(l.Brand), sentAt).Scan(&l.ID, &l.SentAt)
}

func (r *PostgresSentLogRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*) FROM sent_logs WHERE sent_at >= $1
	`, since).Scan(&n)
	return n, err
}

func (r *PostgresSentLogRepo) ListRecent(ctx context.Context, limit, offset int) ([]model.SentLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscriber_id, message_id, brand, sent_at
		FROM sent_logs
		ORDER BY sent_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SentLog
	for rows.Next() {
		var l model.SentLog
		var brand string
		if err := rows.Scan(&l.ID, &l.SubscriberID, &l.MessageID, &brand, &l.SentAt); err != nil {
			return nil, err
		}
		l.Brand = model.Brand(brand)
		out = append(out, l)
	}
	return out, rows.Err()
}
