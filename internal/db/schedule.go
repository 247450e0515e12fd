package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicsched/internal/model"
	"clinicsched/internal/schederr"
)

// CreateSchedule inserts a new schedule. A duplicate
// (room, sub-room, month, year) key maps to ErrDuplicateSchedule so that
// concurrent generators fall into the add-missing-shifts path instead of
// corrupting state.
func (db *DB) CreateSchedule(ctx context.Context, s *model.Schedule) error {
	shiftCfg, err := json.Marshal(s.ShiftConfig)
	if err != nil {
		return fmt.Errorf("marshal shift config: %w", err)
	}
	snap, err := json.Marshal(s.HolidaySnapshot)
	if err != nil {
		return fmt.Errorf("marshal holiday snapshot: %w", err)
	}

	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err = db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, room_id, sub_room_id, month, year, start_date, end_date,
			shift_config, holiday_snapshot, is_active_sub_room, is_active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.RoomID, subRoomToDB(s.SubRoomID), s.Month, s.Year,
		s.StartDate, s.EndDate, string(shiftCfg), string(snap),
		s.IsActiveSubRoom, s.IsActive, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schederr.ErrDuplicateSchedule
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetScheduleByKey returns the schedule for the exact
// (room, sub-room, month, year) key, or ErrScheduleNotFound.
func (db *DB) GetScheduleByKey(ctx context.Context, roomID string, subRoomID *string, month, year int) (*model.Schedule, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, room_id, sub_room_id, month, year, start_date, end_date,
		       shift_config, holiday_snapshot, is_active_sub_room, is_active,
		       created_at, updated_at
		FROM schedules
		WHERE room_id = ? AND sub_room_id = ? AND month = ? AND year = ?
		LIMIT 1`,
		roomID, subRoomToDB(subRoomID), month, year,
	)
	return scanSchedule(row)
}

// GetScheduleByID returns a schedule by id, or ErrScheduleNotFound.
func (db *DB) GetScheduleByID(ctx context.Context, id string) (*model.Schedule, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, room_id, sub_room_id, month, year, start_date, end_date,
		       shift_config, holiday_snapshot, is_active_sub_room, is_active,
		       created_at, updated_at
		FROM schedules
		WHERE id = ?
		LIMIT 1`,
		id,
	)
	return scanSchedule(row)
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	RoomID string
	Month  int
	Year   int
}

// ListSchedules returns schedules matching the filter, newest month first.
func (db *DB) ListSchedules(ctx context.Context, f ScheduleFilter) ([]model.Schedule, error) {
	query := `
		SELECT id, room_id, sub_room_id, month, year, start_date, end_date,
		       shift_config, holiday_snapshot, is_active_sub_room, is_active,
		       created_at, updated_at
		FROM schedules WHERE 1=1`
	var args []any
	if f.RoomID != "" {
		query += " AND room_id = ?"
		args = append(args, f.RoomID)
	}
	if f.Month != 0 {
		query += " AND month = ?"
		args = append(args, f.Month)
	}
	if f.Year != 0 {
		query += " AND year = ?"
		args = append(args, f.Year)
	}
	query += " ORDER BY year DESC, month DESC, room_id, sub_room_id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// UpdateShiftConfig persists the schedule's shift snapshot map, typically
// after a shift's is_generated or is_active flag changed.
func (db *DB) UpdateShiftConfig(ctx context.Context, scheduleID string, cfg map[string]model.ShiftConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal shift config: %w", err)
	}
	res, err := db.ExecContext(ctx,
		"UPDATE schedules SET shift_config = ?, updated_at = ? WHERE id = ?",
		string(data), time.Now(), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("update shift config: %w", err)
	}
	return requireRow(res)
}

// UpdateHolidaySnapshot persists the schedule's holiday snapshot, typically
// after an override flipped per-shift flags.
func (db *DB) UpdateHolidaySnapshot(ctx context.Context, scheduleID string, snap model.HolidaySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal holiday snapshot: %w", err)
	}
	res, err := db.ExecContext(ctx,
		"UPDATE schedules SET holiday_snapshot = ?, updated_at = ? WHERE id = ?",
		string(data), time.Now(), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("update holiday snapshot: %w", err)
	}
	return requireRow(res)
}

// SetScheduleActive flips the schedule's overall active flag.
func (db *DB) SetScheduleActive(ctx context.Context, scheduleID string, active bool) error {
	res, err := db.ExecContext(ctx,
		"UPDATE schedules SET is_active = ?, updated_at = ? WHERE id = ?",
		active, time.Now(), scheduleID,
	)
	if err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schederr.ErrScheduleNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row *sql.Row) (*model.Schedule, error) {
	s, err := scanScheduleRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schederr.ErrScheduleNotFound
	}
	return s, err
}

func scanScheduleRow(row rowScanner) (*model.Schedule, error) {
	var s model.Schedule
	var subRoom, shiftCfg, snap string
	err := row.Scan(
		&s.ID, &s.RoomID, &subRoom, &s.Month, &s.Year, &s.StartDate, &s.EndDate,
		&shiftCfg, &snap, &s.IsActiveSubRoom, &s.IsActive, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.SubRoomID = subRoomFromDB(subRoom)
	if err := json.Unmarshal([]byte(shiftCfg), &s.ShiftConfig); err != nil {
		return nil, fmt.Errorf("unmarshal shift config: %w", err)
	}
	if err := json.Unmarshal([]byte(snap), &s.HolidaySnapshot); err != nil {
		return nil, fmt.Errorf("unmarshal holiday snapshot: %w", err)
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint violations in the error text; matching
	// on it avoids importing the driver's error codes here.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
