// Package api exposes the administrative HTTP surface: manual generation,
// overrides, toggles, conflict checks and exports.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinicsched/internal/conflict"
	"clinicsched/internal/db"
	"clinicsched/internal/metrics"
	"clinicsched/internal/model"
	"clinicsched/internal/override"
	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"

	"github.com/rs/zerolog"
)

// GeneratorService triggers schedule and slot generation.
type GeneratorService interface {
	GenerateForRoomID(ctx context.Context, roomID string, month, year int, shiftNames []string) (*schederr.BatchReport, error)
	AddMissingShifts(ctx context.Context, roomID string, subRoomID *string, month, year int, shiftNames []string, partialStart *time.Time) (int, *schederr.BatchReport, error)
}

// OverrideService creates holiday overrides and applies toggles.
type OverrideService interface {
	CreateOverride(ctx context.Context, scheduleID string, date time.Time, shiftNames []string, note string) (*schederr.BatchReport, error)
	BatchOverride(ctx context.Context, scheduleIDs []string, date time.Time, shiftNames []string, note string) *schederr.BatchReport
	Toggle(ctx context.Context, scheduleID string, req override.ToggleRequest) (*override.ToggleResult, error)
}

// ConflictService checks staff assignments for double-bookings.
type ConflictService interface {
	FindConflicts(ctx context.Context, staffID string, candidates []model.Slot) ([]conflict.Assignment, error)
}

// ScheduleReader serves read queries and the auto-generation switch.
type ScheduleReader interface {
	ListSchedules(ctx context.Context, f db.ScheduleFilter) ([]model.Schedule, error)
	GetScheduleByID(ctx context.Context, id string) (*model.Schedule, error)
	ListSlots(ctx context.Context, f db.SlotFilter) ([]model.Slot, error)
	GetAutoScheduleConfig(ctx context.Context) (*model.AutoScheduleConfig, error)
	SetAutoScheduleEnabled(ctx context.Context, enabled bool) error
}

// MonthExporter streams a month workbook.
type MonthExporter interface {
	ExportMonth(ctx context.Context, roomID string, month, year int, w io.Writer) error
}

// Server is the administrative HTTP server.
type Server struct {
	generator GeneratorService
	overrides OverrideService
	conflicts ConflictService
	store     ScheduleReader
	exporter  MonthExporter
	cal       *quarter.Calendar
	apiKey    string
	logger    zerolog.Logger
	mux       *http.ServeMux
}

// NewServer wires the handlers. Request dates are interpreted in the
// calendar's civil timezone, matching generated slots. An empty apiKey
// disables authentication.
func NewServer(gen GeneratorService, ovr OverrideService, conf ConflictService, store ScheduleReader, exporter MonthExporter, cal *quarter.Calendar, apiKey string, logger zerolog.Logger) *Server {
	s := &Server{
		generator: gen,
		overrides: ovr,
		conflicts: conf,
		store:     store,
		exporter:  exporter,
		cal:       cal,
		apiKey:    apiKey,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("/api/schedules/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/schedules/add-missing-shifts", s.handleAddMissingShifts)
	s.mux.HandleFunc("/api/schedules/toggle", s.handleToggle)
	s.mux.HandleFunc("/api/schedules", s.handleListSchedules)
	s.mux.HandleFunc("/api/schedules/", s.handleScheduleSlots)
	s.mux.HandleFunc("/api/overrides", s.handleCreateOverride)
	s.mux.HandleFunc("/api/overrides/batch", s.handleBatchOverride)
	s.mux.HandleFunc("/api/conflicts/check", s.handleConflictCheck)
	s.mux.HandleFunc("/api/auto-schedule", s.handleAutoSchedule)
	s.mux.HandleFunc("/api/reports/month.xlsx", s.handleMonthReport)
	return s
}

// Handler returns the root handler with authentication applied.
func (s *Server) Handler() http.Handler {
	return s.withAuth(s.mux)
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GenerateRequest is the body for POST /api/schedules/generate.
type GenerateRequest struct {
	RoomID string   `json:"room_id"`
	Month  int      `json:"month"`
	Year   int      `json:"year"`
	Shifts []string `json:"shifts,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RoomID == "" || req.Month < 1 || req.Month > 12 || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "room_id, month and year are required")
		return
	}

	report, err := s.generator.GenerateForRoomID(r.Context(), req.RoomID, req.Month, req.Year, req.Shifts)
	if err != nil {
		metrics.IncSchedulesGenerated("error")
		s.writeTaxonomyError(w, err)
		return
	}
	metrics.IncSchedulesGenerated("ok")
	writeJSON(w, http.StatusOK, report)
}

// AddMissingShiftsRequest is the body for POST /api/schedules/add-missing-shifts.
type AddMissingShiftsRequest struct {
	RoomID       string   `json:"room_id"`
	SubRoomID    *string  `json:"sub_room_id,omitempty"`
	Month        int      `json:"month"`
	Year         int      `json:"year"`
	Shifts       []string `json:"shifts,omitempty"`
	PartialStart string   `json:"partial_start,omitempty"` // YYYY-MM-DD
}

func (s *Server) handleAddMissingShifts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req AddMissingShiftsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RoomID == "" || req.Month < 1 || req.Month > 12 || req.Year == 0 {
		writeError(w, http.StatusBadRequest, "room_id, month and year are required")
		return
	}
	var partialStart *time.Time
	if req.PartialStart != "" {
		t, err := time.ParseInLocation("2006-01-02", req.PartialStart, s.cal.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid partial_start; expected YYYY-MM-DD")
			return
		}
		partialStart = &t
	}

	added, report, err := s.generator.AddMissingShifts(r.Context(), req.RoomID, req.SubRoomID, req.Month, req.Year, req.Shifts, partialStart)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots_added": added, "report": report})
}

// OverrideRequest is the body for POST /api/overrides.
type OverrideRequest struct {
	ScheduleID string   `json:"schedule_id"`
	Date       string   `json:"date"` // YYYY-MM-DD
	Shifts     []string `json:"shifts"`
	Note       string   `json:"note,omitempty"`
}

func (s *Server) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req OverrideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, ok := s.parseOverrideDate(w, req.ScheduleID != "", req.Date)
	if !ok {
		return
	}

	report, err := s.overrides.CreateOverride(r.Context(), req.ScheduleID, date, req.Shifts, req.Note)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	if len(report.Succeeded) > 0 {
		metrics.IncOverridesCreated()
	}
	writeJSON(w, http.StatusOK, report)
}

// BatchOverrideRequest is the body for POST /api/overrides/batch.
type BatchOverrideRequest struct {
	ScheduleIDs []string `json:"schedule_ids"`
	Date        string   `json:"date"`
	Shifts      []string `json:"shifts"`
	Note        string   `json:"note,omitempty"`
}

func (s *Server) handleBatchOverride(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req BatchOverrideRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, ok := s.parseOverrideDate(w, len(req.ScheduleIDs) > 0, req.Date)
	if !ok {
		return
	}

	report := s.overrides.BatchOverride(r.Context(), req.ScheduleIDs, date, req.Shifts, req.Note)
	writeJSON(w, http.StatusOK, report)
}

// parseOverrideDate parses a calendar date at civil midnight. Slots carry
// civil dates, so a UTC-parsed date would miss them by a day.
func (s *Server) parseOverrideDate(w http.ResponseWriter, hasTarget bool, dateStr string) (time.Time, bool) {
	if !hasTarget || dateStr == "" {
		writeError(w, http.StatusBadRequest, "schedule target and date are required")
		return time.Time{}, false
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, s.cal.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date; expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// ToggleAPIRequest is the body for POST /api/schedules/toggle.
type ToggleAPIRequest struct {
	ScheduleID string `json:"schedule_id"`
	override.ToggleRequest
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req ToggleAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ScheduleID == "" {
		writeError(w, http.StatusBadRequest, "schedule_id is required")
		return
	}
	if req.DateRange != nil {
		req.DateRange.Start = s.cal.StartOfDay(req.DateRange.Start)
		req.DateRange.End = s.cal.StartOfDay(req.DateRange.End)
	}

	result, err := s.overrides.Toggle(r.Context(), req.ScheduleID, req.ToggleRequest)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	metrics.IncTogglesApplied(toggleScope(req.ToggleRequest))
	writeJSON(w, http.StatusOK, result)
}

// ConflictCheckRequest is the body for POST /api/conflicts/check.
type ConflictCheckRequest struct {
	StaffID    string          `json:"staff_id"`
	Candidates []CandidateSlot `json:"candidates"`
}

// CandidateSlot is a proposed assignment window.
type CandidateSlot struct {
	ScheduleID string    `json:"schedule_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

func (s *Server) handleConflictCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	var req ConflictCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StaffID == "" || len(req.Candidates) == 0 {
		writeError(w, http.StatusBadRequest, "staff_id and candidates are required")
		return
	}

	candidates := make([]model.Slot, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if !c.StartTime.Before(c.EndTime) {
			writeError(w, http.StatusBadRequest, "candidate start_time must be before end_time")
			return
		}
		candidates = append(candidates, model.Slot{
			ScheduleID: c.ScheduleID,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
		})
	}

	conflicts, err := s.conflicts.FindConflicts(r.Context(), req.StaffID, candidates)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	if len(conflicts) > 0 {
		metrics.IncConflictChecks("conflict")
	} else {
		metrics.IncConflictChecks("clear")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_conflicts": len(conflicts) > 0,
		"conflicts":     conflicts,
	})
}

// AutoScheduleRequest is the body for PUT /api/auto-schedule.
type AutoScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutoSchedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.store.GetAutoScheduleConfig(r.Context())
		if err != nil {
			s.writeTaxonomyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var req AutoScheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.store.SetAutoScheduleEnabled(r.Context(), req.Enabled); err != nil {
			s.writeTaxonomyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or PUT")
	}
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	filter := db.ScheduleFilter{RoomID: r.URL.Query().Get("room_id")}
	var ok bool
	if filter.Month, ok = queryInt(w, r, "month"); !ok {
		return
	}
	if filter.Year, ok = queryInt(w, r, "year"); !ok {
		return
	}

	schedules, err := s.store.ListSchedules(r.Context(), filter)
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

// handleScheduleSlots serves GET /api/schedules/{id}/slots.
func (s *Server) handleScheduleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	id, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "slots" || id == "" {
		writeError(w, http.StatusBadRequest, "invalid path; expected /api/schedules/{id}/slots")
		return
	}

	if _, err := s.store.GetScheduleByID(r.Context(), id); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	slots, err := s.store.ListSlots(r.Context(), db.SlotFilter{ScheduleID: id})
	if err != nil {
		s.writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *Server) handleMonthReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "room_id is required")
		return
	}
	month, ok := queryInt(w, r, "month")
	if !ok {
		return
	}
	year, ok := queryInt(w, r, "year")
	if !ok {
		return
	}
	if month < 1 || month > 12 || year == 0 {
		writeError(w, http.StatusBadRequest, "month and year are required")
		return
	}

	// Build the workbook in memory first so export failures still map onto
	// proper statuses; a month workbook is small.
	var buf bytes.Buffer
	if err := s.exporter.ExportMonth(r.Context(), roomID, month, year, &buf); err != nil {
		s.writeTaxonomyError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="schedule-%s-%04d-%02d.xlsx"`, roomID, year, month))
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error().Err(err).Str("room_id", roomID).Msg("month report write failed")
	}
}

func toggleScope(req override.ToggleRequest) string {
	switch {
	case req.IsActive != nil:
		return "schedule"
	case req.SubRoomToggle != nil:
		return "sub_room"
	default:
		return "shift"
	}
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeTaxonomyError maps domain errors onto HTTP status codes.
func (s *Server) writeTaxonomyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schederr.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schederr.ErrDuplicateSchedule):
		writeError(w, http.StatusConflict, err.Error())
	case schederr.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case schederr.IsConfig(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case schederr.IsDependency(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
