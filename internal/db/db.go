package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the scheduling engine.
type DB struct {
	*sql.DB
}

// New opens the database at path and runs migrations.
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(sqlDB); err != nil {
		return nil, err
	}
	return &DB{sqlDB}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Schedules. shift_config and holiday_snapshot are JSON documents:
		// the snapshot is a value copy taken at generation time, never a
		// reference into live holiday rules. sub_room_id uses '' for rooms
		// without sub-rooms so the uniqueness key stays enforceable.
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sub_room_id TEXT NOT NULL DEFAULT '',
			month INTEGER NOT NULL,
			year INTEGER NOT NULL,
			start_date DATETIME NOT NULL,
			end_date DATETIME NOT NULL,
			shift_config TEXT NOT NULL,
			holiday_snapshot TEXT NOT NULL,
			is_active_sub_room BOOLEAN NOT NULL DEFAULT 1,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(room_id, sub_room_id, month, year)
		)`,

		// Slots. Time range is immutable after insert; only status,
		// assignments and is_active are updated.
		`CREATE TABLE IF NOT EXISTS slots (
			id TEXT PRIMARY KEY,
			schedule_id TEXT NOT NULL,
			room_id TEXT NOT NULL,
			sub_room_id TEXT NOT NULL DEFAULT '',
			shift_name TEXT NOT NULL,
			date DATETIME NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			duration INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			dentist_id TEXT,
			nurse_id TEXT,
			appointment_id TEXT,
			is_holiday_override BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (schedule_id) REFERENCES schedules(id)
		)`,

		// Singleton auto-generation switch.
		`CREATE TABLE IF NOT EXISTS auto_schedule_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			enabled BOOLEAN NOT NULL DEFAULT 0,
			last_run TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_schedules_key ON schedules(room_id, sub_room_id, month, year)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_schedule ON slots(schedule_id, shift_name, date)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_times ON slots(start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_dentist ON slots(dentist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_nurse ON slots(nurse_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

// subRoomToDB maps the explicit "no sub-room" variant to the storage sentinel.
func subRoomToDB(subRoomID *string) string {
	if subRoomID == nil {
		return ""
	}
	return *subRoomID
}

func subRoomFromDB(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
