package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"clinicsched/internal/model"
)

// InsertSlots writes a batch of slots inside one transaction. The batch is
// all-or-nothing: a failure on any row leaves none of them behind, so the
// caller never marks a shift generated on a partial insert.
func (db *DB) InsertSlots(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin slot batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slots (
			id, schedule_id, room_id, sub_room_id, shift_name, date,
			start_time, end_time, duration, status, is_active,
			dentist_id, nurse_id, appointment_id, is_holiday_override,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare slot insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for i := range slots {
		s := &slots[i]
		s.CreatedAt = now
		s.UpdatedAt = now
		if _, err := stmt.ExecContext(ctx,
			s.ID, s.ScheduleID, s.RoomID, subRoomToDB(s.SubRoomID), s.ShiftName,
			s.Date, s.StartTime, s.EndTime, s.Duration, s.Status, s.IsActive,
			nullStr(s.DentistID), nullStr(s.NurseID), nullStr(s.AppointmentID),
			s.IsHolidayOverride, now, now,
		); err != nil {
			return fmt.Errorf("insert slot %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// HasSlots reports whether any slots exist for (schedule, date, shift).
// The override path uses it as its duplicate guard.
func (db *DB) HasSlots(ctx context.Context, scheduleID string, date time.Time, shiftName string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM slots
		WHERE schedule_id = ? AND date(date) = date(?) AND shift_name = ?`,
		scheduleID, date, shiftName,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count slots: %w", err)
	}
	return count > 0, nil
}

// HasShiftSlots reports whether regular (non-override) slots exist for a
// shift of the schedule with dates inside [from, to]. Slot generation uses
// it to detect a prior insert whose generated-flag write was lost.
func (db *DB) HasShiftSlots(ctx context.Context, scheduleID, shiftName string, from, to time.Time) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM slots
		WHERE schedule_id = ? AND shift_name = ? AND is_holiday_override = 0
		AND date(date) >= date(?) AND date(date) <= date(?)`,
		scheduleID, shiftName, from, to,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count shift slots: %w", err)
	}
	return count > 0, nil
}

// RoomHasBookedSlots reports whether any slot of the room is booked, locked
// or has a staff assignment.
func (db *DB) RoomHasBookedSlots(ctx context.Context, roomID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM slots
		WHERE room_id = ?
		AND (status != ? OR appointment_id IS NOT NULL
		     OR dentist_id IS NOT NULL OR nurse_id IS NOT NULL)`,
		roomID, model.SlotAvailable,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count booked slots: %w", err)
	}
	return count > 0, nil
}

// CountSlotsBySchedule returns the slot count for a schedule.
func (db *DB) CountSlotsBySchedule(ctx context.Context, scheduleID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM slots WHERE schedule_id = ?", scheduleID,
	).Scan(&count)
	return count, err
}

// SlotFilter narrows ListSlots.
type SlotFilter struct {
	ScheduleID string
	RoomID     string
	ShiftName  string
	DateFrom   time.Time
	DateTo     time.Time
	OnlyActive bool
}

// ListSlots returns slots matching the filter ordered by start time.
func (db *DB) ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error) {
	query := `
		SELECT id, schedule_id, room_id, sub_room_id, shift_name, date,
		       start_time, end_time, duration, status, is_active,
		       dentist_id, nurse_id, appointment_id, is_holiday_override,
		       created_at, updated_at
		FROM slots WHERE 1=1`
	var args []any
	if f.ScheduleID != "" {
		query += " AND schedule_id = ?"
		args = append(args, f.ScheduleID)
	}
	if f.RoomID != "" {
		query += " AND room_id = ?"
		args = append(args, f.RoomID)
	}
	if f.ShiftName != "" {
		query += " AND shift_name = ?"
		args = append(args, f.ShiftName)
	}
	if !f.DateFrom.IsZero() {
		query += " AND date(date) >= date(?)"
		args = append(args, f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		query += " AND date(date) <= date(?)"
		args = append(args, f.DateTo)
	}
	if f.OnlyActive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY start_time"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()
	return collectSlots(rows)
}

// SetSlotsActiveBySchedule cascades the schedule-level active flag onto
// every slot of the schedule in one batched update.
func (db *DB) SetSlotsActiveBySchedule(ctx context.Context, scheduleID string, active bool) (int64, error) {
	res, err := db.ExecContext(ctx,
		"UPDATE slots SET is_active = ?, updated_at = ? WHERE schedule_id = ?",
		active, time.Now(), scheduleID,
	)
	if err != nil {
		return 0, fmt.Errorf("cascade schedule toggle: %w", err)
	}
	return res.RowsAffected()
}

// SetSlotsActiveByShift cascades a shift toggle onto slots of that shift
// whose date falls inside the range.
func (db *DB) SetSlotsActiveByShift(ctx context.Context, scheduleID, shiftName string, rng model.DateRange, active bool) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE slots SET is_active = ?, updated_at = ?
		WHERE schedule_id = ? AND shift_name = ?
		AND date(date) >= date(?) AND date(date) <= date(?)`,
		active, time.Now(), scheduleID, shiftName, rng.Start, rng.End,
	)
	if err != nil {
		return 0, fmt.Errorf("cascade shift toggle: %w", err)
	}
	return res.RowsAffected()
}

// SetSlotsActiveBySubRoom cascades a sub-room toggle onto the sub-room's
// slots whose date falls inside the range.
func (db *DB) SetSlotsActiveBySubRoom(ctx context.Context, scheduleID, subRoomID string, rng model.DateRange, active bool) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE slots SET is_active = ?, updated_at = ?
		WHERE schedule_id = ? AND sub_room_id = ?
		AND date(date) >= date(?) AND date(date) <= date(?)`,
		active, time.Now(), scheduleID, subRoomID, rng.Start, rng.End,
	)
	if err != nil {
		return 0, fmt.Errorf("cascade sub-room toggle: %w", err)
	}
	return res.RowsAffected()
}

// FindAssignedOverlapping returns active slots assigned to staffID (either
// role) overlapping [start, end) with half-open semantics, excluding slots
// of excludeScheduleID. Slots disabled by a toggle cascade never conflict.
func (db *DB) FindAssignedOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeScheduleID string) ([]model.Slot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, schedule_id, room_id, sub_room_id, shift_name, date,
		       start_time, end_time, duration, status, is_active,
		       dentist_id, nurse_id, appointment_id, is_holiday_override,
		       created_at, updated_at
		FROM slots
		WHERE (dentist_id = ? OR nurse_id = ?)
		AND is_active = 1
		AND start_time < ? AND end_time > ?
		AND schedule_id != ?
		ORDER BY start_time`,
		staffID, staffID, end, start, excludeScheduleID,
	)
	if err != nil {
		return nil, fmt.Errorf("find overlapping assignments: %w", err)
	}
	defer rows.Close()
	return collectSlots(rows)
}

func collectSlots(rows *sql.Rows) ([]model.Slot, error) {
	var slots []model.Slot
	for rows.Next() {
		var s model.Slot
		var subRoom string
		var dentist, nurse, appointment sql.NullString
		if err := rows.Scan(
			&s.ID, &s.ScheduleID, &s.RoomID, &subRoom, &s.ShiftName, &s.Date,
			&s.StartTime, &s.EndTime, &s.Duration, &s.Status, &s.IsActive,
			&dentist, &nurse, &appointment, &s.IsHolidayOverride,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		s.SubRoomID = subRoomFromDB(subRoom)
		s.DentistID = strPtr(dentist)
		s.NurseID = strPtr(nurse)
		s.AppointmentID = strPtr(appointment)
		slots = append(slots, s)
	}
	return slots, rows.Err()
}
