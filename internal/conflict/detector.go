package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	"clinicsched/internal/model"

	"github.com/rs/zerolog"
)

// StaffRole identifies which assignment slot matched.
type StaffRole string

const (
	RoleDentist StaffRole = "dentist"
	RoleNurse   StaffRole = "nurse"
)

// Assignment is one existing slot that clashes with a candidate.
type Assignment struct {
	Slot model.Slot `json:"slot"`
	Role StaffRole  `json:"role"`
}

// SlotReader finds existing assignments for a staff member overlapping a
// time window, excluding slots of one schedule.
type SlotReader interface {
	FindAssignedOverlapping(ctx context.Context, staffID string, start, end time.Time, excludeScheduleID string) ([]model.Slot, error)
}

// Detector finds staff double-bookings across overlapping slots.
type Detector struct {
	slots  SlotReader
	logger zerolog.Logger
}

// NewDetector creates a conflict detector.
func NewDetector(slots SlotReader, logger zerolog.Logger) *Detector {
	return &Detector{slots: slots, logger: logger}
}

// FindConflicts returns every existing slot where staffID is assigned in
// either role and whose [start, end) window overlaps a candidate's window
// under half-open semantics. Matches inside the candidate's own schedule are
// excluded: moving a staff member between slots of the same room or sub-room
// is a re-assignment, not a conflict. Results are de-duplicated by slot id
// and sorted by start time. Overlap is symmetric, so running the check from
// either side of a clashing pair reports the other.
func (d *Detector) FindConflicts(ctx context.Context, staffID string, candidates []model.Slot) ([]Assignment, error) {
	if staffID == "" || len(candidates) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var conflicts []Assignment

	for i := range candidates {
		cand := &candidates[i]
		matches, err := d.slots.FindAssignedOverlapping(ctx, staffID, cand.StartTime, cand.EndTime, cand.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("find overlapping assignments: %w", err)
		}
		for _, m := range matches {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			conflicts = append(conflicts, Assignment{Slot: m, Role: roleOf(&m, staffID)})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Slot.StartTime.Before(conflicts[j].Slot.StartTime)
	})

	if len(conflicts) > 0 {
		d.logger.Debug().
			Str("staff_id", staffID).
			Int("candidates", len(candidates)).
			Int("conflicts", len(conflicts)).
			Msg("double-booking detected")
	}
	return conflicts, nil
}

func roleOf(s *model.Slot, staffID string) StaffRole {
	if s.DentistID != nil && *s.DentistID == staffID {
		return RoleDentist
	}
	return RoleNurse
}
