package override

import (
	"context"
	"fmt"
	"time"

	"clinicsched/internal/holiday"
	"clinicsched/internal/model"
	"clinicsched/internal/schederr"
	"clinicsched/internal/slots"

	"github.com/rs/zerolog"
)

// ScheduleStore loads and updates schedules.
type ScheduleStore interface {
	GetScheduleByID(ctx context.Context, id string) (*model.Schedule, error)
	UpdateHolidaySnapshot(ctx context.Context, scheduleID string, snap model.HolidaySnapshot) error
	UpdateShiftConfig(ctx context.Context, scheduleID string, cfg map[string]model.ShiftConfig) error
	SetScheduleActive(ctx context.Context, scheduleID string, active bool) error
}

// SlotStore checks and mutates existing slots in batches.
type SlotStore interface {
	HasSlots(ctx context.Context, scheduleID string, date time.Time, shiftName string) (bool, error)
	SetSlotsActiveBySchedule(ctx context.Context, scheduleID string, active bool) (int64, error)
	SetSlotsActiveByShift(ctx context.Context, scheduleID, shiftName string, rng model.DateRange, active bool) (int64, error)
	SetSlotsActiveBySubRoom(ctx context.Context, scheduleID, subRoomID string, rng model.DateRange, active bool) (int64, error)
}

// SlotGenerator creates slots for a single override day.
type SlotGenerator interface {
	Generate(ctx context.Context, req slots.GenerateRequest) ([]model.Slot, error)
}

// Manager creates holiday overrides and cascades activity toggles.
type Manager struct {
	schedules ScheduleStore
	slots     SlotStore
	factory   SlotGenerator
	logger    zerolog.Logger
}

// NewManager creates an override/toggle manager.
func NewManager(schedules ScheduleStore, slotStore SlotStore, factory SlotGenerator, logger zerolog.Logger) *Manager {
	return &Manager{schedules: schedules, slots: slotStore, factory: factory, logger: logger}
}

// CreateOverride creates slots on an otherwise-closed holiday date for the
// requested shifts. The date is validated against the schedule's stored
// holiday snapshot, never against live holiday rules; a shift that already
// has slots for the date is skipped rather than double-created. Once every
// shift of the date is overridden the date leaves the snapshot's computed
// days off.
func (m *Manager) CreateOverride(ctx context.Context, scheduleID string, date time.Time, shiftNames []string, note string) (*schederr.BatchReport, error) {
	report := &schederr.BatchReport{}

	sched, err := m.schedules.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return report, err
	}
	if !holiday.IsDayOff(date, &sched.HolidaySnapshot) {
		return report, schederr.NewValidationError("%s is not a day off in schedule %s",
			date.Format("2006-01-02"), scheduleID)
	}
	if len(shiftNames) == 0 {
		return report, schederr.NewValidationError("no shifts requested")
	}

	changed := false
	for _, name := range shiftNames {
		cfg, ok := sched.ShiftConfig[name]
		if !ok {
			report.AddSkip(name, "shift not in schedule")
			continue
		}
		if !cfg.IsActive {
			report.AddSkip(name, schederr.ReasonShiftInactive)
			continue
		}
		if holiday.ShiftOverridden(&sched.HolidaySnapshot, date, name) {
			report.AddSkip(name, schederr.ReasonAlreadyOverridden)
			continue
		}

		// Duplicate guard: slots already on the date mean an earlier
		// override half-completed or raced; never create a second batch.
		exists, err := m.slots.HasSlots(ctx, scheduleID, date, name)
		if err != nil {
			return report, fmt.Errorf("check existing slots: %w", err)
		}
		if exists {
			report.AddSkip(name, schederr.ReasonAlreadyGenerated)
			continue
		}

		generated, err := m.factory.Generate(ctx, slots.GenerateRequest{
			ScheduleID:     scheduleID,
			RoomID:         sched.RoomID,
			SubRoomID:      sched.SubRoomID,
			ShiftName:      name,
			ShiftStart:     cfg.StartTime,
			ShiftEnd:       cfg.EndTime,
			SlotDuration:   cfg.SlotDuration,
			RangeStart:     date,
			RangeEnd:       date,
			Snapshot:       &sched.HolidaySnapshot,
			IgnoreHolidays: true,
		})
		if err != nil {
			report.AddFail(name, err.Error())
			continue
		}

		holiday.OverrideShift(&sched.HolidaySnapshot, date, name)
		changed = true
		report.AddOK(name)

		m.logger.Info().
			Str("schedule_id", scheduleID).
			Str("shift", name).
			Str("date", date.Format("2006-01-02")).
			Str("note", note).
			Int("slots", len(generated)).
			Msg("holiday override created")
	}

	if changed {
		if err := m.schedules.UpdateHolidaySnapshot(ctx, scheduleID, sched.HolidaySnapshot); err != nil {
			return report, fmt.Errorf("persist holiday snapshot: %w", err)
		}
	}
	return report, nil
}

// BatchOverride applies CreateOverride across schedules (e.g. a room's
// sub-rooms). It never raises on a per-schedule failure: validation misses
// become skips, everything else a failed outcome, and the caller receives
// the aggregated report.
func (m *Manager) BatchOverride(ctx context.Context, scheduleIDs []string, date time.Time, shiftNames []string, note string) *schederr.BatchReport {
	report := &schederr.BatchReport{}
	for _, id := range scheduleIDs {
		sub, err := m.CreateOverride(ctx, id, date, shiftNames, note)
		if err != nil {
			if schederr.IsValidation(err) {
				report.AddSkip(id, schederr.ReasonNotHoliday)
			} else {
				report.AddFail(id, err.Error())
			}
			continue
		}
		for _, o := range sub.Succeeded {
			report.Succeeded = append(report.Succeeded, schederr.Outcome{Key: id + ":" + o.Key, Status: o.Status})
		}
		for _, o := range sub.Skipped {
			report.Skipped = append(report.Skipped, schederr.Outcome{Key: id + ":" + o.Key, Status: o.Status, Reason: o.Reason})
		}
		for _, o := range sub.Failed {
			report.Failed = append(report.Failed, schederr.Outcome{Key: id + ":" + o.Key, Status: o.Status, Reason: o.Reason})
		}
	}
	return report
}

// ShiftToggle flips one shift's activity within a date range.
type ShiftToggle struct {
	ShiftName string `json:"shift_name"`
	IsActive  bool   `json:"is_active"`
}

// SubRoomToggle flips a sub-room's slots within a date range.
type SubRoomToggle struct {
	SubRoomID string `json:"sub_room_id"`
	IsActive  bool   `json:"is_active"`
}

// ToggleRequest describes one toggle operation. Shift and sub-room toggles
// require an explicit date range; unbounded cascades over history are
// rejected.
type ToggleRequest struct {
	IsActive      *bool            `json:"is_active,omitempty"`
	ShiftToggles  []ShiftToggle    `json:"shift_toggles,omitempty"`
	SubRoomToggle *SubRoomToggle   `json:"sub_room_toggle,omitempty"`
	DateRange     *model.DateRange `json:"date_range,omitempty"`
}

// ToggleResult reports how many slots each cascade touched.
type ToggleResult struct {
	SlotsUpdated int64 `json:"slots_updated"`
}

// Toggle applies the request to a schedule. Flipping the schedule's own
// active flag cascades to every slot. A shift flip persists the shift's
// active flag in the stored config and cascades to the shift's slots inside
// the mandatory date range; sub-room flips cascade to the sub-room's slots
// inside the range.
func (m *Manager) Toggle(ctx context.Context, scheduleID string, req ToggleRequest) (*ToggleResult, error) {
	if req.IsActive == nil && len(req.ShiftToggles) == 0 && req.SubRoomToggle == nil {
		return nil, schederr.NewValidationError("nothing to toggle")
	}
	if (len(req.ShiftToggles) > 0 || req.SubRoomToggle != nil) && req.DateRange == nil {
		return nil, schederr.NewValidationError("shift and sub-room toggles require a date range")
	}

	sched, err := m.schedules.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if req.DateRange != nil {
		if req.DateRange.End.Before(req.DateRange.Start) {
			return nil, schederr.NewValidationError("date range end before start")
		}
		if req.DateRange.Start.After(sched.EndDate) || req.DateRange.End.Before(sched.StartDate) {
			return nil, schederr.NewValidationError("date range outside schedule bounds")
		}
	}
	for _, t := range req.ShiftToggles {
		if _, ok := sched.ShiftConfig[t.ShiftName]; !ok {
			return nil, schederr.NewValidationError("shift %q not in schedule", t.ShiftName)
		}
	}
	if req.SubRoomToggle != nil {
		if sched.SubRoomID == nil || *sched.SubRoomID != req.SubRoomToggle.SubRoomID {
			return nil, schederr.NewValidationError("sub-room %q not in schedule", req.SubRoomToggle.SubRoomID)
		}
	}

	result := &ToggleResult{}

	if req.IsActive != nil {
		if err := m.schedules.SetScheduleActive(ctx, scheduleID, *req.IsActive); err != nil {
			return nil, err
		}
		n, err := m.slots.SetSlotsActiveBySchedule(ctx, scheduleID, *req.IsActive)
		if err != nil {
			return nil, fmt.Errorf("cascade schedule toggle: %w", err)
		}
		result.SlotsUpdated += n
	}

	// A shift toggle flips the shift's own active flag in the schedule's
	// stored config; the slot update inside the range is its cascade.
	if len(req.ShiftToggles) > 0 {
		for _, t := range req.ShiftToggles {
			cfg := sched.ShiftConfig[t.ShiftName]
			cfg.IsActive = t.IsActive
			sched.ShiftConfig[t.ShiftName] = cfg
		}
		if err := m.schedules.UpdateShiftConfig(ctx, scheduleID, sched.ShiftConfig); err != nil {
			return nil, fmt.Errorf("persist shift flags: %w", err)
		}
	}
	for _, t := range req.ShiftToggles {
		n, err := m.slots.SetSlotsActiveByShift(ctx, scheduleID, t.ShiftName, *req.DateRange, t.IsActive)
		if err != nil {
			return nil, fmt.Errorf("cascade shift toggle: %w", err)
		}
		result.SlotsUpdated += n
	}

	if req.SubRoomToggle != nil {
		n, err := m.slots.SetSlotsActiveBySubRoom(ctx, scheduleID, req.SubRoomToggle.SubRoomID, *req.DateRange, req.SubRoomToggle.IsActive)
		if err != nil {
			return nil, fmt.Errorf("cascade sub-room toggle: %w", err)
		}
		result.SlotsUpdated += n
	}

	m.logger.Info().
		Str("schedule_id", scheduleID).
		Int64("slots_updated", result.SlotsUpdated).
		Msg("toggle applied")
	return result, nil
}
