// Package report exports monthly schedules to Excel workbooks for the
// clinic's front desk.
package report

import (
	"context"
	"fmt"
	"io"

	"clinicsched/internal/db"
	"clinicsched/internal/model"
	"clinicsched/internal/schederr"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ScheduleSource lists schedules for a room and month.
type ScheduleSource interface {
	ListSchedules(ctx context.Context, f db.ScheduleFilter) ([]model.Schedule, error)
}

// SlotSource lists the slots of a schedule.
type SlotSource interface {
	ListSlots(ctx context.Context, f db.SlotFilter) ([]model.Slot, error)
}

// Exporter renders a room's monthly schedules into an xlsx workbook, one
// sheet per schedule key.
type Exporter struct {
	schedules ScheduleSource
	slots     SlotSource
	logger    zerolog.Logger
}

// NewExporter creates an Exporter.
func NewExporter(schedules ScheduleSource, slots SlotSource, logger zerolog.Logger) *Exporter {
	return &Exporter{schedules: schedules, slots: slots, logger: logger}
}

var slotColumns = []string{
	"Date", "Weekday", "Shift", "Start", "End",
	"Status", "Active", "Dentist", "Nurse", "Holiday Override",
}

// ExportMonth writes the workbook for one room and month to w.
func (e *Exporter) ExportMonth(ctx context.Context, roomID string, month, year int, w io.Writer) error {
	scheds, err := e.schedules.ListSchedules(ctx, db.ScheduleFilter{RoomID: roomID, Month: month, Year: year})
	if err != nil {
		return fmt.Errorf("list schedules for export: %w", err)
	}
	if len(scheds) == 0 {
		return schederr.ErrScheduleNotFound
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, sched := range scheds {
		sheet := sheetName(&sched)
		if i == 0 {
			f.SetSheetName("Sheet1", sheet)
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return fmt.Errorf("create sheet %s: %w", sheet, err)
			}
		}
		if err := e.writeSheet(ctx, f, sheet, &sched); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	e.logger.Info().
		Str("room_id", roomID).
		Int("month", month).Int("year", year).
		Int("sheets", len(scheds)).
		Msg("month schedule exported")
	return nil
}

func (e *Exporter) writeSheet(ctx context.Context, f *excelize.File, sheet string, sched *model.Schedule) error {
	slots, err := e.slots.ListSlots(ctx, db.SlotFilter{ScheduleID: sched.ID})
	if err != nil {
		return fmt.Errorf("list slots for export: %w", err)
	}

	for i, col := range slotColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		start, _ := excelize.CoordinatesToCellName(1, 1)
		end, _ := excelize.CoordinatesToCellName(len(slotColumns), 1)
		_ = f.SetCellStyle(sheet, start, end, style)
	}

	for row, slot := range slots {
		values := []any{
			slot.Date.Format("2006-01-02"),
			slot.Date.Weekday().String(),
			slot.ShiftName,
			slot.StartTime.Format("15:04"),
			slot.EndTime.Format("15:04"),
			string(slot.Status),
			slot.IsActive,
			deref(slot.DentistID),
			deref(slot.NurseID),
			slot.IsHolidayOverride,
		}
		for i, val := range values {
			cell, err := excelize.CoordinatesToCellName(i+1, row+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// sheetName builds an Excel-safe sheet name for the schedule key.
func sheetName(sched *model.Schedule) string {
	name := sched.RoomID
	if sched.SubRoomID != nil {
		name += "-" + *sched.SubRoomID
	}
	name = fmt.Sprintf("%s %04d-%02d", name, sched.Year, sched.Month)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
