package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicsched/internal/model"
	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"
	"clinicsched/internal/slots"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ScheduleStore plus SlotWriter.
type memStore struct {
	schedules map[string]*model.Schedule // key -> schedule
	byID      map[string]*model.Schedule
	slots     []model.Slot
	insertErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		schedules: make(map[string]*model.Schedule),
		byID:      make(map[string]*model.Schedule),
	}
}

func storeKey(roomID string, subRoomID *string, month, year int) string {
	sub := ""
	if subRoomID != nil {
		sub = *subRoomID
	}
	return roomID + "|" + sub + "|" + time.Month(month).String() + "|" + itoa(year)
}

func itoa(n int) string {
	return time.Date(n, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")
}

// cloneSchedule copies a schedule with its own shift-config map, so reads
// and writes behave like a real store: nothing the caller mutates is
// visible until it is explicitly persisted.
func cloneSchedule(s *model.Schedule) *model.Schedule {
	c := *s
	c.ShiftConfig = make(map[string]model.ShiftConfig, len(s.ShiftConfig))
	for k, v := range s.ShiftConfig {
		c.ShiftConfig[k] = v
	}
	return &c
}

func (m *memStore) CreateSchedule(ctx context.Context, s *model.Schedule) error {
	key := storeKey(s.RoomID, s.SubRoomID, s.Month, s.Year)
	if _, ok := m.schedules[key]; ok {
		return schederr.ErrDuplicateSchedule
	}
	stored := cloneSchedule(s)
	m.schedules[key] = stored
	m.byID[s.ID] = stored
	return nil
}

func (m *memStore) GetScheduleByKey(ctx context.Context, roomID string, subRoomID *string, month, year int) (*model.Schedule, error) {
	s, ok := m.schedules[storeKey(roomID, subRoomID, month, year)]
	if !ok {
		return nil, schederr.ErrScheduleNotFound
	}
	return cloneSchedule(s), nil
}

func (m *memStore) UpdateShiftConfig(ctx context.Context, scheduleID string, cfg map[string]model.ShiftConfig) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	s, ok := m.byID[scheduleID]
	if !ok {
		return schederr.ErrScheduleNotFound
	}
	s.ShiftConfig = make(map[string]model.ShiftConfig, len(cfg))
	for k, v := range cfg {
		s.ShiftConfig[k] = v
	}
	return nil
}

func (m *memStore) HasShiftSlots(ctx context.Context, scheduleID, shiftName string, from, to time.Time) (bool, error) {
	for _, s := range m.slots {
		if s.ScheduleID == scheduleID && s.ShiftName == shiftName && !s.IsHolidayOverride &&
			!s.Date.Before(from) && !s.Date.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RoomHasBookedSlots(ctx context.Context, roomID string) (bool, error) {
	for _, s := range m.slots {
		if s.RoomID != roomID {
			continue
		}
		if s.Status != model.SlotAvailable || s.AppointmentID != nil || s.DentistID != nil || s.NurseID != nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertSlots(ctx context.Context, batch []model.Slot) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.slots = append(m.slots, batch...)
	return nil
}

func (m *memStore) slotCount(shift string) int {
	n := 0
	for _, s := range m.slots {
		if s.ShiftName == shift {
			n++
		}
	}
	return n
}

type fakeDirectory struct {
	rooms map[string]*model.Room
	err   error
}

func (d *fakeDirectory) ListActiveRooms(ctx context.Context) ([]model.Room, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []model.Room
	for _, r := range d.rooms {
		out = append(out, *r)
	}
	return out, nil
}

func (d *fakeDirectory) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	if d.err != nil {
		return nil, d.err
	}
	r, ok := d.rooms[id]
	if !ok {
		return nil, errors.New("room not found")
	}
	return r, nil
}

type fakeHolidays struct {
	recurring []model.RecurringHoliday
	ranged    []model.RangedHoliday
	err       error
}

func (h *fakeHolidays) ListHolidayRules(ctx context.Context) ([]model.RecurringHoliday, []model.RangedHoliday, error) {
	return h.recurring, h.ranged, h.err
}

type fakeShifts struct {
	defs []model.ShiftDefinition
	unit int
	err  error
}

func (s *fakeShifts) Shifts(ctx context.Context) ([]model.ShiftDefinition, error) {
	return s.defs, s.err
}

func (s *fakeShifts) UnitDuration(ctx context.Context) (int, error) {
	return s.unit, s.err
}

type recordedEvent struct {
	kind   string
	roomID string
	used   bool
}

type fakeEvents struct {
	published []recordedEvent
}

func (e *fakeEvents) PublishScheduleUpdated(ctx context.Context, roomID string, hasBeenUsed bool, lastGenerated time.Time) error {
	e.published = append(e.published, recordedEvent{kind: "schedule.updated", roomID: roomID, used: hasBeenUsed})
	return nil
}

func (e *fakeEvents) PublishSubRoomScheduleCreated(ctx context.Context, roomID string, subRoomIDs []string, hasBeenUsed bool) error {
	e.published = append(e.published, recordedEvent{kind: "subroom.created", roomID: roomID, used: hasBeenUsed})
	return nil
}

func defaultShifts() []model.ShiftDefinition {
	return []model.ShiftDefinition{
		{Name: "morning", StartTime: "08:00", EndTime: "12:00", IsActive: true},
		{Name: "afternoon", StartTime: "13:00", EndTime: "17:00", IsActive: true},
		{Name: "evening", StartTime: "18:00", EndTime: "21:00", IsActive: true},
	}
}

type env struct {
	gen    *Generator
	store  *memStore
	events *fakeEvents
}

// fixedNow is mid-March 2025, so April 2025 is a clean future month.
var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, rooms map[string]*model.Room, holidays *fakeHolidays) *env {
	t.Helper()
	store := newMemStore()
	events := &fakeEvents{}
	cal := quarter.NewCalendar(time.UTC)
	factory := slots.NewFactory(store, zerolog.Nop())
	gen := New(store, factory, &fakeDirectory{rooms: rooms},
		holidays, &fakeShifts{defs: defaultShifts(), unit: 30}, events, cal, zerolog.Nop(),
	).WithClock(func() time.Time { return fixedNow })
	return &env{gen: gen, store: store, events: events}
}

func singleRoom() *model.Room {
	return &model.Room{ID: "room-1", Name: "Room 1", IsActive: true, AutoScheduleEnabled: true}
}

func roomWithChairs() *model.Room {
	return &model.Room{
		ID: "room-2", Name: "Room 2", IsActive: true, AutoScheduleEnabled: true,
		SubRooms: []model.SubRoom{
			{ID: "chair-1", IsActive: true},
			{ID: "chair-2", IsActive: false},
		},
	}
}

func TestGenerateForRoomMonthFutureMonth(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()

	sched, report, err := e.gen.GenerateForRoomMonth(context.Background(), room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)
	require.NotNil(t, sched)

	ok, skipped, failed := report.Counts()
	assert.Equal(t, 1, ok)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)

	// Future month: start is the first of the month, not clipped.
	assert.Equal(t, 1, sched.StartDate.Day())
	assert.True(t, sched.ShiftConfig["morning"].IsGenerated)

	// Single room: duration is the shift's own span (240 minutes), so
	// each day yields exactly one slot per 240m window = 1 slot.
	assert.Equal(t, 240, sched.ShiftConfig["morning"].SlotDuration)
	assert.Equal(t, 30, e.store.slotCount("morning"))
}

func TestGenerateForRoomMonthCurrentMonthClipsToTomorrow(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()

	sched, _, err := e.gen.GenerateForRoomMonth(context.Background(), room, nil, 3, 2025, []string{"morning"})
	require.NoError(t, err)

	// now = March 15: generation never fills today or earlier.
	assert.Equal(t, 16, sched.StartDate.Day())
	assert.Equal(t, 16, e.store.slots[0].Date.Day())
}

func TestGenerateForRoomMonthPastMonthRejected(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})

	_, _, err := e.gen.GenerateForRoomMonth(context.Background(), singleRoom(), nil, 1, 2025, nil)
	assert.True(t, schederr.IsValidation(err))
}

func TestGenerateForRoomMonthIdempotent(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	first, _, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)
	countAfterFirst := len(e.store.slots)

	second, report, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "exactly one schedule per key")
	assert.Equal(t, countAfterFirst, len(e.store.slots), "second call is a no-op")
	_, skipped, _ := report.Counts()
	assert.Equal(t, 1, skipped)
	assert.Equal(t, schederr.ReasonAlreadyGenerated, report.Skipped[0].Reason)
}

func TestGenerateForRoomMonthSubRoomUsesUnitDuration(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := roomWithChairs()
	sub := "chair-1"

	sched, _, err := e.gen.GenerateForRoomMonth(context.Background(), room, &sub, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	assert.Equal(t, 30, sched.ShiftConfig["morning"].SlotDuration)
	assert.True(t, sched.IsActiveSubRoom)
	// 30 days * 8 slots per 4h shift.
	assert.Equal(t, 240, e.store.slotCount("morning"))
}

func TestGenerateForRoomMonthInactiveSubRoomRecorded(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := roomWithChairs()
	sub := "chair-2"

	sched, _, err := e.gen.GenerateForRoomMonth(context.Background(), room, &sub, 4, 2025, []string{"morning"})
	require.NoError(t, err)
	assert.False(t, sched.IsActiveSubRoom, "snapshot of sub-room state at generation time")
}

func TestGenerateForRoomMonthHolidaySnapshotAttached(t *testing.T) {
	holidays := &fakeHolidays{
		recurring: []model.RecurringHoliday{{Name: "sundays", DayOfWeek: time.Sunday, IsActive: true}},
	}
	e := newEnv(t, nil, holidays)

	sched, _, err := e.gen.GenerateForRoomMonth(context.Background(), singleRoom(), nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	// April 2025 Sundays: 6, 13, 20, 27.
	require.Len(t, sched.HolidaySnapshot.ComputedDaysOff, 4)
	// All three known shifts have override slots in each day entry.
	for _, d := range sched.HolidaySnapshot.ComputedDaysOff {
		assert.Len(t, d.Shifts, 3)
	}
	// 26 generation days.
	assert.Equal(t, 26, e.store.slotCount("morning"))
}

func TestGenerateForRoomMonthShiftFailureLeavesRecoverableState(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	e.store.insertErr = errors.New("storage down")
	sched, report, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err, "shift failure is reported, not raised")
	_, _, failed := report.Counts()
	assert.Equal(t, 1, failed)
	assert.False(t, sched.ShiftConfig["morning"].IsGenerated)

	// Recovery: the next call for the same key adds the missing shift.
	e.store.insertErr = nil
	added, report2, err := e.gen.AddMissingShifts(ctx, room.ID, nil, 4, 2025, []string{"morning"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 30, added)
	ok, _, _ := report2.Counts()
	assert.Equal(t, 1, ok)

	got, err := e.store.GetScheduleByKey(ctx, room.ID, nil, 4, 2025)
	require.NoError(t, err)
	assert.True(t, got.ShiftConfig["morning"].IsGenerated)
}

func TestAddMissingShiftsRepairsLostGeneratedFlag(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	// The slot batch commits but the generated-flag write is lost.
	e.store.updateErr = errors.New("flag write lost")
	_, report, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)
	_, _, failed := report.Counts()
	assert.Equal(t, 1, failed)
	require.Equal(t, 30, e.store.slotCount("morning"))

	stored, err := e.store.GetScheduleByKey(ctx, room.ID, nil, 4, 2025)
	require.NoError(t, err)
	require.False(t, stored.ShiftConfig["morning"].IsGenerated)

	// Repair restores the flag without inserting a second batch.
	e.store.updateErr = nil
	added, report2, err := e.gen.AddMissingShifts(ctx, room.ID, nil, 4, 2025, []string{"morning"}, nil)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 30, e.store.slotCount("morning"), "existing slots are never duplicated")
	_, skipped, _ := report2.Counts()
	require.Equal(t, 1, skipped)
	assert.Equal(t, schederr.ReasonAlreadyGenerated, report2.Skipped[0].Reason)

	stored, err = e.store.GetScheduleByKey(ctx, room.ID, nil, 4, 2025)
	require.NoError(t, err)
	assert.True(t, stored.ShiftConfig["morning"].IsGenerated)
}

func TestAddMissingShiftsSkipsGeneratedAndInactive(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	_, _, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning", "afternoon"})
	require.NoError(t, err)

	sched, _ := e.store.GetScheduleByKey(ctx, room.ID, nil, 4, 2025)
	cfg := sched.ShiftConfig["afternoon"]
	cfg.IsGenerated = false
	cfg.IsActive = false
	sched.ShiftConfig["afternoon"] = cfg
	require.NoError(t, e.store.UpdateShiftConfig(ctx, sched.ID, sched.ShiftConfig))

	added, report, err := e.gen.AddMissingShifts(ctx, room.ID, nil, 4, 2025, []string{"morning", "afternoon", "night"}, nil)
	require.NoError(t, err)
	assert.Zero(t, added)

	_, skipped, _ := report.Counts()
	assert.Equal(t, 3, skipped)
	reasons := map[string]string{}
	for _, o := range report.Skipped {
		reasons[o.Key] = o.Reason
	}
	assert.Equal(t, schederr.ReasonAlreadyGenerated, reasons["morning"])
	assert.Equal(t, schederr.ReasonShiftInactive, reasons["afternoon"])
}

func TestAddMissingShiftsPartialStartDate(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	sched, _, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	cfg := sched.ShiftConfig["afternoon"]
	require.False(t, cfg.IsGenerated)

	partial := time.Date(2025, time.April, 20, 0, 0, 0, 0, time.UTC)
	added, _, err := e.gen.AddMissingShifts(ctx, room.ID, nil, 4, 2025, []string{"afternoon"}, &partial)
	require.NoError(t, err)
	// April 20-30 inclusive = 11 days, one 240m slot each.
	assert.Equal(t, 11, added)
	for _, s := range e.store.slots {
		if s.ShiftName == "afternoon" {
			assert.GreaterOrEqual(t, s.Date.Day(), 20)
		}
	}
}

func TestAddMissingShiftsAfterScheduleEnd(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	_, _, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	partial := time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC)
	added, report, err := e.gen.AddMissingShifts(ctx, room.ID, nil, 4, 2025, []string{"afternoon"}, &partial)
	require.NoError(t, err, "schedule already ended is a skip, not an error")
	assert.Zero(t, added)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, schederr.ReasonScheduleEnded, report.Skipped[0].Reason)
}

func TestAddMissingShiftsUnknownSchedule(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	_, _, err := e.gen.AddMissingShifts(context.Background(), "ghost", nil, 4, 2025, nil, nil)
	assert.ErrorIs(t, err, schederr.ErrScheduleNotFound)
}

func TestGenerateForRoomCoversAllSubRooms(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := roomWithChairs()

	report := e.gen.GenerateForRoom(context.Background(), room, 4, 2025, []string{"morning"})
	ok, _, failed := report.Counts()
	assert.Equal(t, 2, ok, "one outcome per chair")
	assert.Zero(t, failed)

	// One schedule per chair.
	ctx := context.Background()
	for _, chair := range []string{"chair-1", "chair-2"} {
		id := chair
		_, err := e.store.GetScheduleByKey(ctx, room.ID, &id, 4, 2025)
		assert.NoError(t, err, chair)
	}
}

func TestGenerateQuarterSkipsPastMonths(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()

	// Q1/2025 while now = March 15: January and February are past.
	report := e.gen.GenerateQuarter(context.Background(), room, quarter.YearQuarter{Quarter: 1, Year: 2025}, []string{"morning"})
	ok, skipped, failed := report.Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, skipped)
	assert.Zero(t, failed)
}

func TestGenerateForRoomMonthNoShiftConfig(t *testing.T) {
	store := newMemStore()
	cal := quarter.NewCalendar(time.UTC)
	gen := New(store, slots.NewFactory(store, zerolog.Nop()), &fakeDirectory{},
		&fakeHolidays{}, &fakeShifts{}, nil, cal, zerolog.Nop(),
	).WithClock(func() time.Time { return fixedNow })

	_, _, err := gen.GenerateForRoomMonth(context.Background(), singleRoom(), nil, 4, 2025, nil)
	assert.True(t, schederr.IsConfig(err))
}

func TestGenerateForRoomMonthHolidaySourceDown(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{err: errors.New("cache lost")})
	_, _, err := e.gen.GenerateForRoomMonth(context.Background(), singleRoom(), nil, 4, 2025, nil)
	assert.True(t, schederr.IsDependency(err))
}

func TestGenerateForRoomMonthPublishesEvents(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := roomWithChairs()
	sub := "chair-1"

	_, _, err := e.gen.GenerateForRoomMonth(context.Background(), room, &sub, 4, 2025, []string{"morning"})
	require.NoError(t, err)

	kinds := map[string]int{}
	for _, ev := range e.events.published {
		kinds[ev.kind]++
	}
	assert.Equal(t, 1, kinds["schedule.updated"])
	assert.Equal(t, 1, kinds["subroom.created"])
}

func TestGenerateEventsCarryRoomUsage(t *testing.T) {
	e := newEnv(t, nil, &fakeHolidays{})
	room := singleRoom()
	ctx := context.Background()

	_, _, err := e.gen.GenerateForRoomMonth(ctx, room, nil, 4, 2025, []string{"morning"})
	require.NoError(t, err)
	require.Len(t, e.events.published, 1)
	assert.False(t, e.events.published[0].used, "freshly generated room has no usage")

	// A booking on any slot marks the room as used in later notifications.
	e.store.slots[0].Status = model.SlotBooked
	_, _, err = e.gen.GenerateForRoomMonth(ctx, room, nil, 5, 2025, []string{"morning"})
	require.NoError(t, err)
	require.Len(t, e.events.published, 2)
	assert.True(t, e.events.published[1].used)
}

func TestGenerateForRoomIDDirectoryDown(t *testing.T) {
	store := newMemStore()
	cal := quarter.NewCalendar(time.UTC)
	gen := New(store, slots.NewFactory(store, zerolog.Nop()),
		&fakeDirectory{err: errors.New("directory offline")},
		&fakeHolidays{}, &fakeShifts{defs: defaultShifts(), unit: 30}, nil, cal, zerolog.Nop(),
	).WithClock(func() time.Time { return fixedNow })

	_, err := gen.GenerateForRoomID(context.Background(), "room-1", 4, 2025, nil)
	assert.True(t, schederr.IsDependency(err))
}
