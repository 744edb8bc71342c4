// Package audit exports the reschedule audit log as monthly xlsx reports.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// TableSource provides access to database tables for export.
type TableSource interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// Cleaner deletes audit rows older than a cutoff.
type Cleaner interface {
	DeleteRescheduleLogBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds configuration for the audit service.
type Config struct {
	Enabled bool
	// Dir receives the monthly reports.
	Dir string
	// RetentionDays is how many days of reschedule log to keep. Zero keeps everything.
	RetentionDays int
	ExportOnStart bool
}

// Service handles monthly audit exports and log cleanup.
type Service struct {
	config  Config
	source  TableSource
	cleaner Cleaner
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewService creates a new audit service. cleaner may be nil.
func NewService(cfg Config, source TableSource, cleaner Cleaner, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{config: cfg, source: source, cleaner: cleaner, logger: logger, now: time.Now}
}

// Filename names the report covering the month of t, e.g. "reschedules_2026-03.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("reschedules_%s.xlsx", t.Format("2006-01"))
}

// Export writes every audit table to out as one xlsx workbook.
func (s *Service) Export(ctx context.Context, out io.Writer) error {
	tables, err := s.source.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	wb, err := newWorkbook()
	if err != nil {
		return err
	}
	defer func() { _ = wb.close() }()

	for _, table := range tables {
		rows, columns, err := s.source.GetTableData(ctx, table)
		if err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		if err := wb.addSheet(table); err != nil {
			return err
		}
		if err := wb.writeHeader(columns); err != nil {
			return err
		}
		for _, row := range rows {
			values := make([]interface{}, len(columns))
			for i, col := range columns {
				values[i] = row[col]
			}
			if err := wb.writeRow(values); err != nil {
				return err
			}
		}
		s.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("Exported table")
	}

	if err := wb.save(out); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// ExportToFile writes the report for the previous month into the configured directory.
func (s *Service) ExportToFile(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit directory: %w", err)
	}
	path := filepath.Join(s.config.Dir, Filename(s.now().AddDate(0, -1, 0)))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := s.Export(ctx, f); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	s.logger.Info().Str("path", path).Msg("Audit report written")
	return path, nil
}

// Cleanup removes reschedule log rows older than the retention period.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.cleaner == nil || s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	deleted, err := s.cleaner.DeleteRescheduleLogBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old reschedule log: %w", err)
	}
	s.logger.Info().Int64("deleted_count", deleted).Int("retention_days", s.config.RetentionDays).Msg("Cleaned up old audit rows")
	return deleted, nil
}

// Start runs the export and cleanup on the first of every month until ctx is done.
func (s *Service) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Audit service is disabled")
		return
	}

	if s.config.ExportOnStart {
		s.run(ctx)
	}

	next := s.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Info().Time("next_run", next).Msg("Audit service started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.run(ctx)
			next = s.nextFirstOfMonth()
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Service) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if _, err := s.ExportToFile(runCtx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to export audit data")
	}
	if _, err := s.Cleanup(runCtx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to cleanup audit data")
	}
}

func (s *Service) nextFirstOfMonth() time.Time {
	now := s.now()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}
