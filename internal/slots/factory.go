package slots

import (
	"context"
	"fmt"
	"time"

	"clinicsched/internal/holiday"
	"clinicsched/internal/metrics"
	"clinicsched/internal/model"
	"clinicsched/internal/schederr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SlotWriter persists a generated batch of slots atomically.
type SlotWriter interface {
	InsertSlots(ctx context.Context, slots []model.Slot) error
}

// GenerateRequest describes one expansion of a shift window across a
// date range.
type GenerateRequest struct {
	ScheduleID   string
	RoomID       string
	SubRoomID    *string
	ShiftName    string
	ShiftStart   string // "08:00"
	ShiftEnd     string // "12:00"
	SlotDuration int    // minutes
	RangeStart   time.Time
	RangeEnd     time.Time
	Snapshot     *model.HolidaySnapshot
	// IgnoreHolidays bypasses the snapshot skip; only the override path
	// sets it, and those slots are tagged as holiday overrides.
	IgnoreHolidays bool
}

// Factory expands shift windows into fixed-duration bookable slots.
type Factory struct {
	writer SlotWriter
	logger zerolog.Logger
}

// NewFactory creates a slot factory writing through the given store.
func NewFactory(writer SlotWriter, logger zerolog.Logger) *Factory {
	return &Factory{writer: writer, logger: logger}
}

// Generate tiles the shift's [start, end) window into consecutive
// slotDuration-minute slots for every non-holiday day in the range, persists
// them as one batch and returns the full list. A final partial window
// shorter than the slot duration is discarded, never padded or shrunk.
// Holiday days are skipped silently unless IgnoreHolidays is set.
func (f *Factory) Generate(ctx context.Context, req GenerateRequest) ([]model.Slot, error) {
	shiftStart, shiftEnd, err := parseShiftWindow(req.ShiftStart, req.ShiftEnd)
	if err != nil {
		return nil, err
	}

	span := int(shiftEnd.Sub(shiftStart).Minutes())
	if req.SlotDuration <= 0 {
		return nil, schederr.NewConfigError("slot duration must be positive, got %d", req.SlotDuration)
	}
	if req.SlotDuration > span {
		return nil, schederr.NewConfigError("slot duration %dm exceeds shift %s span of %dm",
			req.SlotDuration, req.ShiftName, span)
	}

	duration := time.Duration(req.SlotDuration) * time.Minute
	var generated []model.Slot
	skippedDays := 0

	for day := startOfDay(req.RangeStart); !day.After(req.RangeEnd); day = day.AddDate(0, 0, 1) {
		if !req.IgnoreHolidays && req.Snapshot != nil && holiday.IsDayOff(day, req.Snapshot) {
			skippedDays++
			continue
		}

		dayStart := onDate(day, shiftStart)
		dayEnd := onDate(day, shiftEnd)

		for cursor := dayStart; !cursor.Add(duration).After(dayEnd); cursor = cursor.Add(duration) {
			generated = append(generated, model.Slot{
				ID:                uuid.NewString(),
				ScheduleID:        req.ScheduleID,
				RoomID:            req.RoomID,
				SubRoomID:         req.SubRoomID,
				ShiftName:         req.ShiftName,
				Date:              day,
				StartTime:         cursor,
				EndTime:           cursor.Add(duration),
				Duration:          req.SlotDuration,
				Status:            model.SlotAvailable,
				IsActive:          true,
				IsHolidayOverride: req.IgnoreHolidays,
			})
		}
	}

	if err := f.writer.InsertSlots(ctx, generated); err != nil {
		return nil, fmt.Errorf("persist slot batch: %w", err)
	}
	metrics.AddSlotsCreated(len(generated))

	f.logger.Debug().
		Str("schedule_id", req.ScheduleID).
		Str("shift", req.ShiftName).
		Int("slots", len(generated)).
		Int("holiday_days_skipped", skippedDays).
		Msg("slots generated")

	return generated, nil
}

func parseShiftWindow(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse("15:04", start)
	if err != nil {
		return time.Time{}, time.Time{}, schederr.NewConfigError("invalid shift start %q", start)
	}
	e, err := time.Parse("15:04", end)
	if err != nil {
		return time.Time{}, time.Time{}, schederr.NewConfigError("invalid shift end %q", end)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, schederr.NewConfigError("shift end %q not after start %q", end, start)
	}
	return s, e, nil
}

func onDate(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), 0, 0, day.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
