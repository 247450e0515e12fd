package model

import "time"

// SlotStatus represents the booking state of a slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotLocked    SlotStatus = "locked"
)

// Room is a bookable clinic room from the external directory.
// A room either has sub-rooms (slots are scoped to a sub-room) or none
// (slots are scoped to the room itself).
type Room struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	IsActive            bool      `json:"is_active"`
	AutoScheduleEnabled bool      `json:"auto_schedule_enabled"`
	SubRooms            []SubRoom `json:"sub_rooms,omitempty"`
}

// SubRoom is a chair/unit inside a room.
type SubRoom struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// HasSubRooms reports whether slots for this room are scoped per sub-room.
func (r *Room) HasSubRooms() bool {
	return len(r.SubRooms) > 0
}

// ShiftDefinition is a named civil time-of-day window, e.g. morning 08:00-12:00.
type ShiftDefinition struct {
	Name      string `json:"name" yaml:"name"`
	StartTime string `json:"start_time" yaml:"start_time"` // "08:00"
	EndTime   string `json:"end_time" yaml:"end_time"`     // "12:00"
	IsActive  bool   `json:"is_active" yaml:"is_active"`
}

// ShiftConfig is the per-schedule snapshot of a shift taken at generation time.
// It is never re-read from the live configuration once stored.
type ShiftConfig struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	SlotDuration int    `json:"slot_duration"` // minutes
	IsActive     bool   `json:"is_active"`
	IsGenerated  bool   `json:"is_generated"`
}

// RecurringHoliday closes the clinic on the same weekday every week.
type RecurringHoliday struct {
	Name      string       `json:"name"`
	DayOfWeek time.Weekday `json:"day_of_week"`
	IsActive  bool         `json:"is_active"`
}

// RangedHoliday closes the clinic for an inclusive date range.
type RangedHoliday struct {
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// OverrideState tracks whether slots were explicitly created for one shift
// on an otherwise-closed date.
type OverrideState struct {
	IsOverridden bool `json:"is_overridden"`
}

// DayOff is a resolved closed date with per-shift override status.
type DayOff struct {
	Date   time.Time                `json:"date"`
	Shifts map[string]OverrideState `json:"shifts"`
}

// HolidaySnapshot is the point-in-time copy of holiday rules attached to a
// Schedule. Later edits to the live rules never touch it.
type HolidaySnapshot struct {
	Recurring       []RecurringHoliday `json:"recurring"`
	Ranged          []RangedHoliday    `json:"ranged"`
	ComputedDaysOff []DayOff           `json:"computed_days_off"`
}

// Schedule is the unit of generation: one room or sub-room for one month.
type Schedule struct {
	ID              string                 `json:"id"`
	RoomID          string                 `json:"room_id"`
	SubRoomID       *string                `json:"sub_room_id,omitempty"`
	Month           int                    `json:"month"`
	Year            int                    `json:"year"`
	StartDate       time.Time              `json:"start_date"`
	EndDate         time.Time              `json:"end_date"`
	ShiftConfig     map[string]ShiftConfig `json:"shift_config"`
	HolidaySnapshot HolidaySnapshot        `json:"holiday_snapshot"`
	IsActiveSubRoom bool                   `json:"is_active_sub_room"`
	IsActive        bool                   `json:"is_active"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Slot is the smallest bookable unit of time inside a shift. Its time range
// is immutable after creation; only status, assignments and IsActive change.
type Slot struct {
	ID                string     `json:"id"`
	ScheduleID        string     `json:"schedule_id"`
	RoomID            string     `json:"room_id"`
	SubRoomID         *string    `json:"sub_room_id,omitempty"`
	ShiftName         string     `json:"shift_name"`
	Date              time.Time  `json:"date"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	Duration          int        `json:"duration"` // minutes
	Status            SlotStatus `json:"status"`
	IsActive          bool       `json:"is_active"`
	DentistID         *string    `json:"dentist_id,omitempty"`
	NurseID           *string    `json:"nurse_id,omitempty"`
	AppointmentID     *string    `json:"appointment_id,omitempty"`
	IsHolidayOverride bool       `json:"is_holiday_override"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Overlaps reports half-open interval overlap with another slot.
func (s *Slot) Overlaps(other *Slot) bool {
	return s.StartTime.Before(other.EndTime) && other.StartTime.Before(s.EndTime)
}

// AssignedTo reports whether staffID is assigned to the slot in either role.
func (s *Slot) AssignedTo(staffID string) bool {
	if s.DentistID != nil && *s.DentistID == staffID {
		return true
	}
	return s.NurseID != nil && *s.NurseID == staffID
}

// RunStats summarizes one auto-generation run.
type RunStats struct {
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	RanAt     time.Time `json:"ran_at"`
}

// AutoScheduleConfig is the singleton switch for end-of-month generation.
type AutoScheduleConfig struct {
	Enabled   bool      `json:"enabled"`
	LastRun   *RunStats `json:"last_run,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DateRange is an inclusive civil date range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls on a date inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// SameDate reports whether a and b fall on the same civil date.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
