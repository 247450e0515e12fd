package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"clinicsched/internal/holiday"
	"clinicsched/internal/model"
	"clinicsched/internal/schederr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	slots []model.Slot
	err   error
}

func (w *memWriter) InsertSlots(ctx context.Context, slots []model.Slot) error {
	if w.err != nil {
		return w.err
	}
	w.slots = append(w.slots, slots...)
	return nil
}

func dateUTC(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func baseRequest() GenerateRequest {
	return GenerateRequest{
		ScheduleID:   "sched-1",
		RoomID:       "room-1",
		ShiftName:    "morning",
		ShiftStart:   "08:00",
		ShiftEnd:     "12:00",
		SlotDuration: 30,
		RangeStart:   dateUTC(2025, time.April, 1),
		RangeEnd:     dateUTC(2025, time.April, 30),
	}
}

func TestGenerateFullMonth(t *testing.T) {
	writer := &memWriter{}
	factory := NewFactory(writer, zerolog.Nop())

	got, err := factory.Generate(context.Background(), baseRequest())
	require.NoError(t, err)

	// 30 days * 8 slots per 4-hour shift at 30 minutes.
	assert.Len(t, got, 240)
	assert.Len(t, writer.slots, 240)

	first := got[0]
	assert.Equal(t, 8, first.StartTime.Hour())
	assert.Equal(t, 0, first.StartTime.Minute())
	assert.Equal(t, 30, int(first.EndTime.Sub(first.StartTime).Minutes()))
	assert.Equal(t, model.SlotAvailable, first.Status)
	assert.True(t, first.IsActive)
	assert.False(t, first.IsHolidayOverride)
}

func TestGenerateSkipsHolidays(t *testing.T) {
	rng := model.DateRange{Start: dateUTC(2025, time.April, 1), End: dateUTC(2025, time.April, 30)}
	snap := holiday.Snapshot(rng, []model.RecurringHoliday{
		{Name: "sundays", DayOfWeek: time.Sunday, IsActive: true},
	}, nil, []string{"morning"})

	writer := &memWriter{}
	factory := NewFactory(writer, zerolog.Nop())

	req := baseRequest()
	req.Snapshot = &snap
	got, err := factory.Generate(context.Background(), req)
	require.NoError(t, err)

	// April 2025 has 4 Sundays: 26 days * 8 slots = 208.
	assert.Len(t, got, 208)
	for _, s := range got {
		assert.NotEqual(t, time.Sunday, s.Date.Weekday())
	}

	// April 2 is a Wednesday; its first slot runs 08:00-08:30.
	assert.Equal(t, 2, got[8].Date.Day())
	assert.Equal(t, "08:00", got[8].StartTime.Format("15:04"))
	assert.Equal(t, "08:30", got[8].EndTime.Format("15:04"))
}

func TestGenerateOverridePathBypassesHolidays(t *testing.T) {
	rng := model.DateRange{Start: dateUTC(2025, time.April, 6), End: dateUTC(2025, time.April, 6)}
	snap := holiday.Snapshot(rng, []model.RecurringHoliday{
		{Name: "sundays", DayOfWeek: time.Sunday, IsActive: true},
	}, nil, []string{"morning"})

	writer := &memWriter{}
	factory := NewFactory(writer, zerolog.Nop())

	req := baseRequest()
	req.Snapshot = &snap
	req.RangeStart = dateUTC(2025, time.April, 6)
	req.RangeEnd = dateUTC(2025, time.April, 6)
	req.IgnoreHolidays = true

	got, err := factory.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, 8)
	for _, s := range got {
		assert.True(t, s.IsHolidayOverride)
	}
}

func TestGenerateDiscardsPartialTail(t *testing.T) {
	writer := &memWriter{}
	factory := NewFactory(writer, zerolog.Nop())

	req := baseRequest()
	req.ShiftEnd = "12:15" // 255 minutes: 8 full slots, 15 leftover minutes
	req.RangeStart = dateUTC(2025, time.April, 1)
	req.RangeEnd = dateUTC(2025, time.April, 1)

	got, err := factory.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, 8)
	last := got[len(got)-1]
	assert.Equal(t, "12:00", last.EndTime.Format("15:04"))
}

func TestGenerateInvalidDuration(t *testing.T) {
	factory := NewFactory(&memWriter{}, zerolog.Nop())

	req := baseRequest()
	req.SlotDuration = 0
	_, err := factory.Generate(context.Background(), req)
	assert.True(t, schederr.IsConfig(err), "zero duration should be a config error")

	req.SlotDuration = -15
	_, err = factory.Generate(context.Background(), req)
	assert.True(t, schederr.IsConfig(err))

	req.SlotDuration = 300 // longer than the 240-minute shift
	_, err = factory.Generate(context.Background(), req)
	assert.True(t, schederr.IsConfig(err))
}

func TestGenerateInvalidWindow(t *testing.T) {
	factory := NewFactory(&memWriter{}, zerolog.Nop())

	req := baseRequest()
	req.ShiftStart = "12:00"
	req.ShiftEnd = "08:00"
	_, err := factory.Generate(context.Background(), req)
	assert.True(t, schederr.IsConfig(err))

	req = baseRequest()
	req.ShiftStart = "8am"
	_, err = factory.Generate(context.Background(), req)
	assert.True(t, schederr.IsConfig(err))
}

func TestGenerateWriterFailure(t *testing.T) {
	writer := &memWriter{err: errors.New("disk full")}
	factory := NewFactory(writer, zerolog.Nop())

	_, err := factory.Generate(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist slot batch")
}

func TestGenerateSingleDayRange(t *testing.T) {
	writer := &memWriter{}
	factory := NewFactory(writer, zerolog.Nop())

	req := baseRequest()
	// Range carrying a time-of-day component still covers its own day.
	req.RangeStart = time.Date(2025, time.April, 10, 15, 0, 0, 0, time.UTC)
	req.RangeEnd = time.Date(2025, time.April, 10, 23, 59, 59, 0, time.UTC)

	got, err := factory.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, got, 8)
}
