package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicsched/internal/model"
)

// GetAutoScheduleConfig returns the singleton auto-generation switch.
// A missing row means the feature was never enabled.
func (db *DB) GetAutoScheduleConfig(ctx context.Context) (*model.AutoScheduleConfig, error) {
	var cfg model.AutoScheduleConfig
	var lastRun sql.NullString
	err := db.QueryRowContext(ctx,
		"SELECT enabled, last_run, updated_at FROM auto_schedule_config WHERE id = 1",
	).Scan(&cfg.Enabled, &lastRun, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.AutoScheduleConfig{Enabled: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auto schedule config: %w", err)
	}
	if lastRun.Valid {
		var stats model.RunStats
		if err := json.Unmarshal([]byte(lastRun.String), &stats); err != nil {
			return nil, fmt.Errorf("unmarshal last run stats: %w", err)
		}
		cfg.LastRun = &stats
	}
	return &cfg, nil
}

// SetAutoScheduleEnabled flips the global auto-generation flag.
func (db *DB) SetAutoScheduleEnabled(ctx context.Context, enabled bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO auto_schedule_config (id, enabled, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		enabled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set auto schedule enabled: %w", err)
	}
	return nil
}

// RecordAutoScheduleRun stores the stats of the latest trigger run.
func (db *DB) RecordAutoScheduleRun(ctx context.Context, stats model.RunStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal run stats: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO auto_schedule_config (id, enabled, last_run, updated_at) VALUES (1, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_run = excluded.last_run, updated_at = excluded.updated_at`,
		string(data), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record auto schedule run: %w", err)
	}
	return nil
}
