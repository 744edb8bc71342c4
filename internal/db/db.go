// Package db is the local sqlite appointment store and reschedule audit log.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"dayline/internal/model"
	"dayline/internal/reschedule"
	"dayline/internal/timecodec"
)

var (
	ErrNotFound = errors.New("appointment not found")
	ErrConflict = errors.New("appointment time conflict")
)

// DB represents the database connection.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: conn, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS appointments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			start_minute INTEGER NOT NULL,
			end_minute INTEGER NOT NULL,
			kind TEXT NOT NULL DEFAULT 'service',
			payload TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (end_minute > start_minute)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(date, start_minute)`,

		`CREATE TABLE IF NOT EXISTS reschedule_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			appointment_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			from_start TEXT NOT NULL,
			from_end TEXT NOT NULL,
			to_start TEXT NOT NULL,
			to_end TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reschedule_log_appointment ON reschedule_log(appointment_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// CreateAppointment inserts a and returns its id. a.ID is ignored.
func (db *DB) CreateAppointment(ctx context.Context, a model.Appointment) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	kind := a.Kind
	if kind == "" {
		kind = model.KindService
	}

	now := time.Now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO appointments (date, start_minute, end_minute, kind, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Date.Format(model.DateLayout), a.StartMinute, a.EndMinute, string(kind), nullablePayload(a.Payload), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert appointment: %w", err)
	}
	return res.LastInsertId()
}

// FetchAppointmentsForDay lists the appointments of date ordered by start.
func (db *DB) FetchAppointmentsForDay(ctx context.Context, date time.Time) ([]model.WireAppointment, error) {
	day := date.Format(model.DateLayout)
	rows, err := db.QueryContext(ctx, `
		SELECT id, date, start_minute, end_minute, kind, payload
		FROM appointments WHERE date = ? ORDER BY start_minute, id`, day)
	if err != nil {
		return nil, fmt.Errorf("query appointments for %s: %w", day, err)
	}
	defer rows.Close()

	var out []model.WireAppointment
	for rows.Next() {
		w, err := scanWire(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateAppointmentTime moves appointment id to start24-end24 on date. The update is
// refused with ErrConflict when the new interval overlaps another appointment of that day.
func (db *DB) UpdateAppointmentTime(ctx context.Context, id int64, date time.Time, start24, end24 string) (model.WireAppointment, error) {
	start, err := timecodec.Parse24h(start24)
	if err != nil {
		return model.WireAppointment{}, err
	}
	end, err := timecodec.Parse24h(end24)
	if err != nil {
		return model.WireAppointment{}, err
	}
	if end <= start {
		return model.WireAppointment{}, model.ErrInvalidInterval
	}
	day := date.Format(model.DateLayout)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.WireAppointment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var clash int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM appointments
		WHERE date = ? AND id != ? AND start_minute < ? AND ? < end_minute
		ORDER BY start_minute LIMIT 1`,
		day, id, end, start,
	).Scan(&clash)
	if err == nil {
		return model.WireAppointment{}, fmt.Errorf("%w: overlaps appointment %d", ErrConflict, clash)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.WireAppointment{}, fmt.Errorf("check overlap: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE appointments
		SET date = ?, start_minute = ?, end_minute = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		day, start, end, time.Now(), id,
	)
	if err != nil {
		return model.WireAppointment{}, fmt.Errorf("update appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.WireAppointment{}, ErrNotFound
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, date, start_minute, end_minute, kind, payload FROM appointments WHERE id = ?`, id)
	w, err := scanWire(row)
	if err != nil {
		return model.WireAppointment{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.WireAppointment{}, fmt.Errorf("commit: %w", err)
	}
	db.logger.Debug().Int64("appointment_id", id).Str("start", start24).Str("end", end24).Msg("appointment time updated")
	return w, nil
}

// RecordReschedule appends a commit attempt to the audit log.
func (db *DB) RecordReschedule(ctx context.Context, e reschedule.AuditEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO reschedule_log (appointment_id, date, from_start, from_end, to_start, to_end, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.AppointmentID, e.Date, e.FromStart, e.FromEnd, e.ToStart, e.ToEnd, e.Status, nullableString(e.Error), created,
	)
	if err != nil {
		return fmt.Errorf("insert reschedule log: %w", err)
	}
	return nil
}

// ListReschedules returns the audit entries of one appointment, oldest first.
func (db *DB) ListReschedules(ctx context.Context, appointmentID int64) ([]reschedule.AuditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT appointment_id, date, from_start, from_end, to_start, to_end, status, COALESCE(error, ''), created_at
		FROM reschedule_log WHERE appointment_id = ? ORDER BY id`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reschedule.AuditEntry
	for rows.Next() {
		var e reschedule.AuditEntry
		if err := rows.Scan(&e.AppointmentID, &e.Date, &e.FromStart, &e.FromEnd, &e.ToStart, &e.ToEnd, &e.Status, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWire(s scanner) (model.WireAppointment, error) {
	var (
		w          model.WireAppointment
		start, end int
		kind       string
		payload    sql.NullString
	)
	if err := s.Scan(&w.ID, &w.Date, &start, &end, &kind, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WireAppointment{}, ErrNotFound
		}
		return model.WireAppointment{}, err
	}
	w.Start = timecodec.Format24h(start)
	w.End = timecodec.Format24h(end)
	w.Kind = model.Kind(kind)
	if payload.Valid && strings.TrimSpace(payload.String) != "" {
		w.Payload = []byte(payload.String)
	}
	return w, nil
}

func nullablePayload(p []byte) sql.NullString {
	if len(p) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(p), Valid: true}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DeleteRescheduleLogBefore removes audit entries created before cutoff.
func (db *DB) DeleteRescheduleLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM reschedule_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete reschedule log: %w", err)
	}
	return res.RowsAffected()
}

// SnapshotTo writes a consistent copy of the database to path.
func (db *DB) SnapshotTo(ctx context.Context, path string) error {
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}
