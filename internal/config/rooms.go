package config

import (
	"fmt"
	"os"
	"time"

	"clinicsched/internal/model"

	"gopkg.in/yaml.v3"
)

// MaxShifts is the upper bound on configured shifts per day.
const MaxShifts = 3

// RoomEntry is one room in rooms.yaml.
type RoomEntry struct {
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	IsActive     bool           `yaml:"is_active"`
	AutoSchedule bool           `yaml:"auto_schedule"`
	SubRooms     []SubRoomEntry `yaml:"sub_rooms,omitempty"`
}

// SubRoomEntry is a chair/unit inside a room.
type SubRoomEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	IsActive bool   `yaml:"is_active"`
}

// ShiftEntry is a named working window.
type ShiftEntry struct {
	Name      string `yaml:"name"`
	StartTime string `yaml:"start_time"` // "08:00"
	EndTime   string `yaml:"end_time"`   // "12:00"
	IsActive  bool   `yaml:"is_active"`
}

// RecurringHolidayEntry closes every occurrence of a weekday.
// Days use 1=Mon .. 7=Sun.
type RecurringHolidayEntry struct {
	Name     string `yaml:"name"`
	Day      int    `yaml:"day"`
	IsActive bool   `yaml:"is_active"`
}

// RangedHolidayEntry closes an inclusive date range.
type RangedHolidayEntry struct {
	Name      string `yaml:"name"`
	StartDate string `yaml:"start_date"` // "2026-01-28"
	EndDate   string `yaml:"end_date"`
}

// HolidaysEntry groups the holiday rules.
type HolidaysEntry struct {
	Recurring []RecurringHolidayEntry `yaml:"recurring"`
	Ranged    []RangedHolidayEntry    `yaml:"ranged"`
}

// RoomsConfig is the root of rooms.yaml: the room directory, the global
// shift windows, and the live holiday rules.
type RoomsConfig struct {
	Rooms    []RoomEntry   `yaml:"rooms"`
	Shifts   []ShiftEntry  `yaml:"shifts"`
	Holidays HolidaysEntry `yaml:"holidays"`
}

// LoadRoomsConfig loads and validates rooms.yaml.
func LoadRoomsConfig(path string) (*RoomsConfig, error) {
	if path == "" {
		path = "configs/rooms.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}

	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rooms config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *RoomsConfig) Validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("no rooms defined")
	}
	if len(c.Shifts) == 0 {
		return fmt.Errorf("no shifts defined")
	}
	if len(c.Shifts) > MaxShifts {
		return fmt.Errorf("at most %d shifts supported, got %d", MaxShifts, len(c.Shifts))
	}

	roomIDs := make(map[string]bool)
	for i, room := range c.Rooms {
		if room.ID == "" {
			return fmt.Errorf("room[%d]: id is required", i)
		}
		if roomIDs[room.ID] {
			return fmt.Errorf("room[%d]: duplicate id %q", i, room.ID)
		}
		roomIDs[room.ID] = true

		subIDs := make(map[string]bool)
		for j, sub := range room.SubRooms {
			if sub.ID == "" {
				return fmt.Errorf("room[%d].sub_rooms[%d]: id is required", i, j)
			}
			if subIDs[sub.ID] {
				return fmt.Errorf("room[%d].sub_rooms[%d]: duplicate id %q", i, j, sub.ID)
			}
			subIDs[sub.ID] = true
		}
	}

	names := make(map[string]bool)
	for i, shift := range c.Shifts {
		if shift.Name == "" {
			return fmt.Errorf("shift[%d]: name is required", i)
		}
		if names[shift.Name] {
			return fmt.Errorf("shift[%d]: duplicate name %q", i, shift.Name)
		}
		names[shift.Name] = true

		start, err := time.Parse("15:04", shift.StartTime)
		if err != nil {
			return fmt.Errorf("shift[%d].start_time: invalid format %q, expected HH:MM", i, shift.StartTime)
		}
		end, err := time.Parse("15:04", shift.EndTime)
		if err != nil {
			return fmt.Errorf("shift[%d].end_time: invalid format %q, expected HH:MM", i, shift.EndTime)
		}
		if !end.After(start) {
			return fmt.Errorf("shift[%d]: end_time must be after start_time", i)
		}
	}

	for i, h := range c.Holidays.Recurring {
		if h.Day < 1 || h.Day > 7 {
			return fmt.Errorf("holidays.recurring[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", i, h.Day)
		}
	}
	for i, h := range c.Holidays.Ranged {
		start, err := time.Parse("2006-01-02", h.StartDate)
		if err != nil {
			return fmt.Errorf("holidays.ranged[%d].start_date: invalid date %q, expected YYYY-MM-DD", i, h.StartDate)
		}
		end, err := time.Parse("2006-01-02", h.EndDate)
		if err != nil {
			return fmt.Errorf("holidays.ranged[%d].end_date: invalid date %q, expected YYYY-MM-DD", i, h.EndDate)
		}
		if end.Before(start) {
			return fmt.Errorf("holidays.ranged[%d]: end_date before start_date", i)
		}
	}
	return nil
}

// ModelRooms converts the room entries to domain rooms.
func (c *RoomsConfig) ModelRooms() []model.Room {
	rooms := make([]model.Room, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		room := model.Room{
			ID:                  r.ID,
			Name:                r.Name,
			IsActive:            r.IsActive,
			AutoScheduleEnabled: r.AutoSchedule,
		}
		for _, sub := range r.SubRooms {
			room.SubRooms = append(room.SubRooms, model.SubRoom{
				ID:       sub.ID,
				Name:     sub.Name,
				IsActive: sub.IsActive,
			})
		}
		rooms = append(rooms, room)
	}
	return rooms
}

// ModelShifts converts the shift entries to domain shift definitions.
func (c *RoomsConfig) ModelShifts() []model.ShiftDefinition {
	shifts := make([]model.ShiftDefinition, 0, len(c.Shifts))
	for _, s := range c.Shifts {
		shifts = append(shifts, model.ShiftDefinition{
			Name:      s.Name,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			IsActive:  s.IsActive,
		})
	}
	return shifts
}

// HolidayRules converts the holiday entries to domain rules. Ranged dates
// are anchored to midnight in loc.
func (c *RoomsConfig) HolidayRules(loc *time.Location) ([]model.RecurringHoliday, []model.RangedHoliday) {
	recurring := make([]model.RecurringHoliday, 0, len(c.Holidays.Recurring))
	for _, h := range c.Holidays.Recurring {
		day := time.Weekday(h.Day % 7) // 7=Sun maps to time.Sunday
		recurring = append(recurring, model.RecurringHoliday{
			Name:      h.Name,
			DayOfWeek: day,
			IsActive:  h.IsActive,
		})
	}

	ranged := make([]model.RangedHoliday, 0, len(c.Holidays.Ranged))
	for _, h := range c.Holidays.Ranged {
		start, _ := time.ParseInLocation("2006-01-02", h.StartDate, loc)
		end, _ := time.ParseInLocation("2006-01-02", h.EndDate, loc)
		ranged = append(ranged, model.RangedHoliday{
			Name:      h.Name,
			StartDate: start,
			EndDate:   end,
		})
	}
	return recurring, ranged
}
