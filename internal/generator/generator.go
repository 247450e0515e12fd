package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicsched/internal/holiday"
	"clinicsched/internal/model"
	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"
	"clinicsched/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScheduleStore persists schedules and answers slot existence queries.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *model.Schedule) error
	GetScheduleByKey(ctx context.Context, roomID string, subRoomID *string, month, year int) (*model.Schedule, error)
	UpdateShiftConfig(ctx context.Context, scheduleID string, cfg map[string]model.ShiftConfig) error
	HasShiftSlots(ctx context.Context, scheduleID, shiftName string, from, to time.Time) (bool, error)
	RoomHasBookedSlots(ctx context.Context, roomID string) (bool, error)
}

// SlotGenerator expands one shift window into persisted slots.
type SlotGenerator interface {
	Generate(ctx context.Context, req slots.GenerateRequest) ([]model.Slot, error)
}

// RoomDirectory is the read-only room/sub-room source.
type RoomDirectory interface {
	ListActiveRooms(ctx context.Context) ([]model.Room, error)
	GetRoom(ctx context.Context, id string) (*model.Room, error)
}

// HolidaySource lists the live holiday rules. They are resolved into a
// schedule's snapshot exactly once, at generation time.
type HolidaySource interface {
	ListHolidayRules(ctx context.Context) ([]model.RecurringHoliday, []model.RangedHoliday, error)
}

// ShiftSource provides the global shift windows and the default unit
// duration used for rooms with sub-rooms.
type ShiftSource interface {
	Shifts(ctx context.Context) ([]model.ShiftDefinition, error)
	UnitDuration(ctx context.Context) (int, error)
}

// EventSink receives fire-and-forget notifications after successful
// generation. Failures are logged, never propagated.
type EventSink interface {
	PublishScheduleUpdated(ctx context.Context, roomID string, hasBeenUsed bool, lastGenerated time.Time) error
	PublishSubRoomScheduleCreated(ctx context.Context, roomID string, subRoomIDs []string, hasBeenUsed bool) error
}

// Generator builds monthly schedules and their slots.
type Generator struct {
	store    ScheduleStore
	factory  SlotGenerator
	rooms    RoomDirectory
	holidays HolidaySource
	shifts   ShiftSource
	events   EventSink
	cal      *quarter.Calendar
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a Generator. events may be nil when no bus is wired.
func New(store ScheduleStore, factory SlotGenerator, rooms RoomDirectory, holidays HolidaySource, shifts ShiftSource, events EventSink, cal *quarter.Calendar, logger zerolog.Logger) *Generator {
	return &Generator{
		store:    store,
		factory:  factory,
		rooms:    rooms,
		holidays: holidays,
		shifts:   shifts,
		events:   events,
		cal:      cal,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// GenerateForRoomMonth creates the schedule for one (room, sub-room, month,
// year) key and generates slots for the requested shifts. Generation is
// idempotent by key: when the schedule already exists the call degrades to
// AddMissingShifts instead of failing, which is also the crash-recovery path
// after a partial earlier run. An empty shiftNames means all configured
// shifts.
func (g *Generator) GenerateForRoomMonth(ctx context.Context, room *model.Room, subRoomID *string, month, year int, shiftNames []string) (*model.Schedule, *schederr.BatchReport, error) {
	report := &schederr.BatchReport{}

	defs, unitDuration, err := g.loadShiftConfig(ctx)
	if err != nil {
		return nil, report, err
	}
	if len(shiftNames) == 0 {
		for _, d := range defs {
			shiftNames = append(shiftNames, d.Name)
		}
	}

	now := g.now()
	monthStart, monthEnd := g.cal.MonthRange(month, year)
	if monthEnd.Before(now) {
		return nil, report, schederr.NewValidationError("month %d/%d is entirely in the past", month, year)
	}

	// Existing schedule: extend, never duplicate.
	if existing, err := g.store.GetScheduleByKey(ctx, room.ID, subRoomID, month, year); err == nil {
		_, addReport, addErr := g.AddMissingShifts(ctx, room.ID, subRoomID, month, year, shiftNames, nil)
		report.Merge(addReport)
		return existing, report, addErr
	} else if !errors.Is(err, schederr.ErrScheduleNotFound) {
		return nil, report, fmt.Errorf("check existing schedule: %w", err)
	}

	// Never retroactively fill today or earlier.
	startDate := monthStart
	if tomorrow := g.cal.Tomorrow(now); tomorrow.After(startDate) {
		startDate = tomorrow
	}

	for _, name := range shiftNames {
		if _, ok := findShift(defs, name); !ok {
			return nil, report, schederr.NewConfigError("shift %q is not configured", name)
		}
	}

	// Snapshot every configured shift, not just the requested ones, so a
	// later AddMissingShifts call can generate a shift missed now from the
	// same point-in-time configuration.
	shiftCfg := make(map[string]model.ShiftConfig, len(defs))
	allNames := make([]string, 0, len(defs))
	for _, def := range defs {
		allNames = append(allNames, def.Name)
		duration, err := shiftSlotDuration(def, room, unitDuration)
		if err != nil {
			return nil, report, err
		}
		shiftCfg[def.Name] = model.ShiftConfig{
			StartTime:    def.StartTime,
			EndTime:      def.EndTime,
			SlotDuration: duration,
			IsActive:     def.IsActive,
			IsGenerated:  false,
		}
	}

	recurring, ranged, err := g.holidays.ListHolidayRules(ctx)
	if err != nil {
		return nil, report, &schederr.DependencyError{Dependency: "holiday source", Err: err}
	}
	snap := holiday.Snapshot(model.DateRange{Start: startDate, End: monthEnd}, recurring, ranged, allNames)

	sched := &model.Schedule{
		ID:              uuid.NewString(),
		RoomID:          room.ID,
		SubRoomID:       subRoomID,
		Month:           month,
		Year:            year,
		StartDate:       startDate,
		EndDate:         monthEnd,
		ShiftConfig:     shiftCfg,
		HolidaySnapshot: snap,
		IsActiveSubRoom: subRoomActive(room, subRoomID),
		IsActive:        true,
	}

	if err := g.store.CreateSchedule(ctx, sched); err != nil {
		if errors.Is(err, schederr.ErrDuplicateSchedule) {
			// Lost the race to a concurrent generator; its row wins and we
			// fill in whatever it has not generated yet.
			existing, getErr := g.store.GetScheduleByKey(ctx, room.ID, subRoomID, month, year)
			if getErr != nil {
				return nil, report, getErr
			}
			_, addReport, addErr := g.AddMissingShifts(ctx, room.ID, subRoomID, month, year, shiftNames, nil)
			report.Merge(addReport)
			return existing, report, addErr
		}
		return nil, report, err
	}

	for _, name := range shiftNames {
		cfg := sched.ShiftConfig[name]
		if !cfg.IsActive {
			report.AddSkip(name, schederr.ReasonShiftInactive)
			continue
		}
		if err := g.generateShift(ctx, sched, name, cfg, sched.StartDate); err != nil {
			g.logger.Error().Err(err).
				Str("room_id", room.ID).
				Str("shift", name).
				Int("month", month).Int("year", year).
				Msg("shift slot generation failed")
			report.AddFail(name, err.Error())
			continue
		}
		report.AddOK(name)
	}

	g.notifyGenerated(ctx, room, subRoomID)
	return sched, report, nil
}

// GenerateForRoomID resolves the room through the directory and delegates to
// GenerateForRoom. A directory miss is a dependency failure for this room
// only; batch callers keep going.
func (g *Generator) GenerateForRoomID(ctx context.Context, roomID string, month, year int, shiftNames []string) (*schederr.BatchReport, error) {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, &schederr.DependencyError{Dependency: "room directory", Err: err}
	}
	return g.GenerateForRoom(ctx, room, month, year, shiftNames), nil
}

// AddMissingShifts generates slots for shifts of an existing schedule that
// were requested but never generated, using the schedule's stored shift
// snapshot rather than the live configuration. partialStart optionally
// pushes the effective start forward; it never pulls it before tomorrow.
func (g *Generator) AddMissingShifts(ctx context.Context, roomID string, subRoomID *string, month, year int, shiftNames []string, partialStart *time.Time) (int, *schederr.BatchReport, error) {
	report := &schederr.BatchReport{}

	sched, err := g.store.GetScheduleByKey(ctx, roomID, subRoomID, month, year)
	if err != nil {
		return 0, report, err
	}
	if len(shiftNames) == 0 {
		for name := range sched.ShiftConfig {
			shiftNames = append(shiftNames, name)
		}
	}

	effStart := sched.StartDate
	if tomorrow := g.cal.Tomorrow(g.now()); tomorrow.After(effStart) {
		effStart = tomorrow
	}
	if partialStart != nil && partialStart.After(effStart) {
		effStart = g.cal.StartOfDay(*partialStart)
	}

	added := 0
	for _, name := range shiftNames {
		cfg, ok := sched.ShiftConfig[name]
		if !ok {
			report.AddSkip(name, "shift not in schedule")
			continue
		}
		if cfg.IsGenerated {
			report.AddSkip(name, schederr.ReasonAlreadyGenerated)
			continue
		}
		if !cfg.IsActive {
			report.AddSkip(name, schederr.ReasonShiftInactive)
			continue
		}
		if effStart.After(sched.EndDate) {
			report.AddSkip(name, schederr.ReasonScheduleEnded)
			continue
		}

		// Slots can exist with the flag still false when an earlier batch
		// committed but the flag write was lost. Repair the flag instead of
		// inserting a duplicate batch.
		exists, err := g.store.HasShiftSlots(ctx, sched.ID, name, effStart, sched.EndDate)
		if err != nil {
			report.AddFail(name, err.Error())
			continue
		}
		if exists {
			cfg.IsGenerated = true
			sched.ShiftConfig[name] = cfg
			if err := g.store.UpdateShiftConfig(ctx, sched.ID, sched.ShiftConfig); err != nil {
				report.AddFail(name, err.Error())
				continue
			}
			report.AddSkip(name, schederr.ReasonAlreadyGenerated)
			continue
		}

		generated, err := g.generateShiftSlots(ctx, sched, name, cfg, effStart)
		if err != nil {
			report.AddFail(name, err.Error())
			continue
		}
		added += generated
		report.AddOK(name)
	}
	return added, report, nil
}

// GenerateForRoom builds schedules for one room and month: one per sub-room
// when the room has sub-rooms, one for the room itself otherwise. Per-target
// failures are reported, not raised, so siblings always proceed.
func (g *Generator) GenerateForRoom(ctx context.Context, room *model.Room, month, year int, shiftNames []string) *schederr.BatchReport {
	report := &schederr.BatchReport{}

	targets := []*string{nil}
	if room.HasSubRooms() {
		targets = targets[:0]
		for i := range room.SubRooms {
			targets = append(targets, &room.SubRooms[i].ID)
		}
	}

	for _, subRoomID := range targets {
		key := scheduleKey(room.ID, subRoomID, month, year)
		_, sub, err := g.GenerateForRoomMonth(ctx, room, subRoomID, month, year, shiftNames)
		if err != nil {
			if schederr.IsValidation(err) {
				report.AddSkip(key, schederr.ReasonPastMonth)
				continue
			}
			report.AddFail(key, err.Error())
			continue
		}
		report.Merge(prefixReport(sub, key))
	}
	return report
}

// GenerateQuarter runs GenerateForRoom for every month of the quarter.
func (g *Generator) GenerateQuarter(ctx context.Context, room *model.Room, q quarter.YearQuarter, shiftNames []string) *schederr.BatchReport {
	report := &schederr.BatchReport{}
	for _, month := range q.Months() {
		report.Merge(g.GenerateForRoom(ctx, room, month, q.Year, shiftNames))
	}
	return report
}

func (g *Generator) generateShift(ctx context.Context, sched *model.Schedule, name string, cfg model.ShiftConfig, from time.Time) error {
	_, err := g.generateShiftSlots(ctx, sched, name, cfg, from)
	return err
}

func (g *Generator) generateShiftSlots(ctx context.Context, sched *model.Schedule, name string, cfg model.ShiftConfig, from time.Time) (int, error) {
	generated, err := g.factory.Generate(ctx, slots.GenerateRequest{
		ScheduleID:   sched.ID,
		RoomID:       sched.RoomID,
		SubRoomID:    sched.SubRoomID,
		ShiftName:    name,
		ShiftStart:   cfg.StartTime,
		ShiftEnd:     cfg.EndTime,
		SlotDuration: cfg.SlotDuration,
		RangeStart:   from,
		RangeEnd:     sched.EndDate,
		Snapshot:     &sched.HolidaySnapshot,
	})
	if err != nil {
		return 0, err
	}

	cfg.IsGenerated = true
	sched.ShiftConfig[name] = cfg
	if err := g.store.UpdateShiftConfig(ctx, sched.ID, sched.ShiftConfig); err != nil {
		// Slots exist but the flag write failed. The next AddMissingShifts
		// call repairs this; surface the error so the caller records it.
		return len(generated), fmt.Errorf("mark shift %s generated: %w", name, err)
	}
	return len(generated), nil
}

func (g *Generator) loadShiftConfig(ctx context.Context) ([]model.ShiftDefinition, int, error) {
	defs, err := g.shifts.Shifts(ctx)
	if err != nil {
		return nil, 0, &schederr.DependencyError{Dependency: "shift config", Err: err}
	}
	if len(defs) == 0 {
		return nil, 0, schederr.NewConfigError("no shifts configured")
	}
	unit, err := g.shifts.UnitDuration(ctx)
	if err != nil {
		return nil, 0, &schederr.DependencyError{Dependency: "shift config", Err: err}
	}
	return defs, unit, nil
}

func (g *Generator) notifyGenerated(ctx context.Context, room *model.Room, subRoomID *string) {
	if g.events == nil {
		return
	}
	used, err := g.store.RoomHasBookedSlots(ctx, room.ID)
	if err != nil {
		g.logger.Warn().Err(err).Str("room_id", room.ID).Msg("check room usage failed")
	}
	if err := g.events.PublishScheduleUpdated(ctx, room.ID, used, g.now()); err != nil {
		g.logger.Warn().Err(err).Str("room_id", room.ID).Msg("publish schedule.updated failed")
	}
	if subRoomID != nil {
		if err := g.events.PublishSubRoomScheduleCreated(ctx, room.ID, []string{*subRoomID}, used); err != nil {
			g.logger.Warn().Err(err).Str("room_id", room.ID).Msg("publish subroom.schedule.created failed")
		}
	}
}

// shiftSlotDuration picks the slot length for a shift: the global unit
// duration for rooms with sub-rooms, the shift's own span otherwise.
func shiftSlotDuration(def model.ShiftDefinition, room *model.Room, unitDuration int) (int, error) {
	if room.HasSubRooms() {
		if unitDuration <= 0 {
			return 0, schederr.NewConfigError("unit duration must be positive, got %d", unitDuration)
		}
		return unitDuration, nil
	}
	start, err := time.Parse("15:04", def.StartTime)
	if err != nil {
		return 0, schederr.NewConfigError("shift %s: invalid start time %q", def.Name, def.StartTime)
	}
	end, err := time.Parse("15:04", def.EndTime)
	if err != nil {
		return 0, schederr.NewConfigError("shift %s: invalid end time %q", def.Name, def.EndTime)
	}
	span := int(end.Sub(start).Minutes())
	if span <= 0 {
		return 0, schederr.NewConfigError("shift %s: end %q not after start %q", def.Name, def.EndTime, def.StartTime)
	}
	return span, nil
}

func subRoomActive(room *model.Room, subRoomID *string) bool {
	if subRoomID == nil {
		return true
	}
	for _, sr := range room.SubRooms {
		if sr.ID == *subRoomID {
			return sr.IsActive
		}
	}
	return false
}

func findShift(defs []model.ShiftDefinition, name string) (model.ShiftDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return model.ShiftDefinition{}, false
}

func scheduleKey(roomID string, subRoomID *string, month, year int) string {
	if subRoomID != nil {
		return fmt.Sprintf("%s/%s %d-%02d", roomID, *subRoomID, year, month)
	}
	return fmt.Sprintf("%s %d-%02d", roomID, year, month)
}

func prefixReport(r *schederr.BatchReport, prefix string) *schederr.BatchReport {
	if r == nil {
		return nil
	}
	out := &schederr.BatchReport{}
	for _, o := range r.Succeeded {
		out.Succeeded = append(out.Succeeded, schederr.Outcome{Key: prefix + ":" + o.Key, Status: o.Status, Reason: o.Reason})
	}
	for _, o := range r.Skipped {
		out.Skipped = append(out.Skipped, schederr.Outcome{Key: prefix + ":" + o.Key, Status: o.Status, Reason: o.Reason})
	}
	for _, o := range r.Failed {
		out.Failed = append(out.Failed, schederr.Outcome{Key: prefix + ":" + o.Key, Status: o.Status, Reason: o.Reason})
	}
	return out
}
