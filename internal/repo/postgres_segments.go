package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type PostgresSegmentRepo struct {
	db *sql.DB
}

func NewPostgresSegmentRepo(db *sql.DB) *PostgresSegmentRepo {
	return &PostgresSegmentRepo{db: db}
}

func (r *PostgresSegmentRepo) Get(ctx context.Context, id int64) (*model.Segment, error) {
	var s model.Segment
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, rules, is_active
		FROM segments
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Rules, &s.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
