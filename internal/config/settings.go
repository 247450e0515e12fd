package config

import (
	"context"
	"sync"
	"time"

	"clinicsched/internal/model"
)

// Settings is the live view over rooms.yaml shared by the generator, the
// trigger and the event consumer. Apply swaps the whole view atomically on
// reload; schedules keep their own snapshots and never see the change.
type Settings struct {
	mu           sync.RWMutex
	shifts       []model.ShiftDefinition
	recurring    []model.RecurringHoliday
	ranged       []model.RangedHoliday
	unitDuration int
	loc          *time.Location
}

// NewSettings builds the live view from a loaded rooms config.
func NewSettings(rc *RoomsConfig, unitDurationMinutes int, loc *time.Location) *Settings {
	s := &Settings{unitDuration: unitDurationMinutes, loc: loc}
	s.Apply(rc)
	return s
}

// Apply replaces the shift and holiday views.
func (s *Settings) Apply(rc *RoomsConfig) {
	recurring, ranged := rc.HolidayRules(s.loc)
	s.mu.Lock()
	s.shifts = rc.ModelShifts()
	s.recurring = recurring
	s.ranged = ranged
	s.mu.Unlock()
}

// Shifts returns the configured shift windows.
func (s *Settings) Shifts(context.Context) ([]model.ShiftDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ShiftDefinition(nil), s.shifts...), nil
}

// UnitDuration returns the global slot unit duration in minutes, used for
// rooms whose slots are scoped per sub-room.
func (s *Settings) UnitDuration(context.Context) (int, error) {
	return s.unitDuration, nil
}

// ListHolidayRules returns the live holiday rules.
func (s *Settings) ListHolidayRules(context.Context) ([]model.RecurringHoliday, []model.RangedHoliday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recurring := append([]model.RecurringHoliday(nil), s.recurring...)
	ranged := append([]model.RangedHoliday(nil), s.ranged...)
	return recurring, ranged, nil
}
