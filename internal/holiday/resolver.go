package holiday

import (
	"sort"
	"time"

	"clinicsched/internal/model"
)

// ResolveDaysOff walks every calendar day in rng and returns the resolved
// "days off" set: a day is off when an active recurring rule matches its
// weekday or when it falls within a ranged rule. The result is de-duplicated
// by date, sorted ascending, and each entry carries one override-state record
// per known shift, all initialized to not-overridden.
//
// The returned snapshot is a value copy; the resolver never mutates it later.
// Consumers flip override flags per (date, shift) and drop the date entry
// only once every shift for that date has been overridden.
func ResolveDaysOff(rng model.DateRange, recurring []model.RecurringHoliday, ranged []model.RangedHoliday, shiftNames []string) []model.DayOff {
	if rng.End.Before(rng.Start) {
		return nil
	}

	weekdays := make(map[time.Weekday]bool)
	for _, r := range recurring {
		if r.IsActive {
			weekdays[r.DayOfWeek] = true
		}
	}

	var daysOff []model.DayOff
	seen := make(map[string]bool)

	for day := startOfDay(rng.Start); !day.After(rng.End); day = day.AddDate(0, 0, 1) {
		if !weekdays[day.Weekday()] && !inRangedRule(day, ranged) {
			continue
		}
		key := day.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true

		shifts := make(map[string]model.OverrideState, len(shiftNames))
		for _, name := range shiftNames {
			shifts[name] = model.OverrideState{IsOverridden: false}
		}
		daysOff = append(daysOff, model.DayOff{Date: day, Shifts: shifts})
	}

	sort.Slice(daysOff, func(i, j int) bool {
		return daysOff[i].Date.Before(daysOff[j].Date)
	})
	return daysOff
}

// Snapshot resolves the complete holiday snapshot for a range, keeping copies
// of the rules it was resolved from so later rule edits cannot shift an
// already-generated calendar.
func Snapshot(rng model.DateRange, recurring []model.RecurringHoliday, ranged []model.RangedHoliday, shiftNames []string) model.HolidaySnapshot {
	return model.HolidaySnapshot{
		Recurring:       append([]model.RecurringHoliday(nil), recurring...),
		Ranged:          append([]model.RangedHoliday(nil), ranged...),
		ComputedDaysOff: ResolveDaysOff(rng, recurring, ranged, shiftNames),
	}
}

// IsDayOff reports whether date appears in the snapshot's computed days off.
func IsDayOff(date time.Time, snap *model.HolidaySnapshot) bool {
	_, ok := findDayOff(date, snap)
	return ok
}

// OverrideShift marks (date, shift) as overridden in the snapshot and removes
// the date entry entirely once all of its shifts are overridden. It returns
// whether the date was removed and whether the (date, shift) pair existed.
func OverrideShift(snap *model.HolidaySnapshot, date time.Time, shift string) (removed, found bool) {
	idx, ok := findDayOff(date, snap)
	if !ok {
		return false, false
	}
	entry := snap.ComputedDaysOff[idx]
	state, ok := entry.Shifts[shift]
	if !ok {
		return false, false
	}
	state.IsOverridden = true
	entry.Shifts[shift] = state

	for _, s := range entry.Shifts {
		if !s.IsOverridden {
			return false, true
		}
	}
	// Every shift is overridden: the date is no longer off in any sense.
	snap.ComputedDaysOff = append(snap.ComputedDaysOff[:idx], snap.ComputedDaysOff[idx+1:]...)
	return true, true
}

// ShiftOverridden reports whether (date, shift) is already overridden.
func ShiftOverridden(snap *model.HolidaySnapshot, date time.Time, shift string) bool {
	idx, ok := findDayOff(date, snap)
	if !ok {
		return false
	}
	return snap.ComputedDaysOff[idx].Shifts[shift].IsOverridden
}

func findDayOff(date time.Time, snap *model.HolidaySnapshot) (int, bool) {
	for i, d := range snap.ComputedDaysOff {
		if model.SameDate(d.Date, date) {
			return i, true
		}
	}
	return 0, false
}

func inRangedRule(day time.Time, ranged []model.RangedHoliday) bool {
	for _, r := range ranged {
		start := startOfDay(r.StartDate)
		end := startOfDay(r.EndDate)
		if !day.Before(start) && !day.After(end) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
