package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
)

type PostgresConfigRepo struct {
	db *sql.DB
}

func NewPostgresConfigRepo(db *sql.DB) *PostgresConfigRepo {
	return &PostgresConfigRepo{db: db}
}

// DefaultRunConfig is what a fresh installation starts with: nothing goes
// out until an operator turns sending on.
func DefaultRunConfig() model.RunConfig {
	return model.RunConfig{
		SendingEnabled:       false,
		TestMode:             true,
		Brands:               map[model.Brand]model.BrandSettings{},
		EngagementWindowDays: model.DefaultEngagementWindowDays,
	}
}

// Load reads the singleton row, creating it with defaults when missing.
func (r *PostgresConfigRepo) Load(ctx context.Context) (model.RunConfig, error) {
	var (
		cfg       model.RunConfig
		numbers   []byte
		brands    []byte
		segmentID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT sending_enabled, test_mode, test_numbers, brand_settings,
		       min_interval_minutes, engagement_window_enabled, engagement_window_days,
		       global_daily_cap, dry_run_mode, source_list_id, queue_min_id, sync_skip,
		       active_segment_id, provider
		FROM app_config
		WHERE id = 1
	`).Scan(
		&cfg.SendingEnabled,
		&cfg.TestMode,
		&numbers,
		&brands,
		&cfg.MinIntervalMinutes,
		&cfg.EngagementWindowEnabled,
		&cfg.EngagementWindowDays,
		&cfg.GlobalDailyCap,
		&cfg.DryRunMode,
		&cfg.SourceListID,
		&cfg.QueueMinID,
		&cfg.SyncSkip,
		&segmentID,
		&cfg.Provider,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r.createDefault(ctx)
	}
	if err != nil {
		return model.RunConfig{}, err
	}

	if err := json.Unmarshal(numbers, &cfg.TestNumbers); err != nil {
		return model.RunConfig{}, fmt.Errorf("app_config.test_numbers: %w", err)
	}
	if err := json.Unmarshal(brands, &cfg.Brands); err != nil {
		return model.RunConfig{}, fmt.Errorf("app_config.brand_settings: %w", err)
	}
	if segmentID.Valid {
		cfg.ActiveSegmentID = segmentID.Int64
	}
	return cfg, nil
}

func (r *PostgresConfigRepo) createDefault(ctx context.Context) (model.RunConfig, error) {
	cfg := DefaultRunConfig()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO app_config (id, sending_enabled, test_mode, engagement_window_days)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, cfg.SendingEnabled, cfg.TestMode, cfg.EngagementWindowDays)
	if err != nil {
		return model.RunConfig{}, fmt.Errorf("create default app_config: %w", err)
	}
	return cfg, nil
}
