package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetTableNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSource) GetTableData(ctx context.Context, name string) ([]map[string]interface{}, []string, error) {
	args := m.Called(ctx, name)
	rows, _ := args.Get(0).([]map[string]interface{})
	cols, _ := args.Get(1).([]string)
	return rows, cols, args.Error(2)
}

type mockCleaner struct {
	mock.Mock
}

func (m *mockCleaner) DeleteRescheduleLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newSource() *mockSource {
	src := new(mockSource)
	src.On("GetTableNames", mock.Anything).Return([]string{"appointments", "reschedule_log"}, nil)
	src.On("GetTableData", mock.Anything, "appointments").Return(
		[]map[string]interface{}{{"id": int64(1), "date": "2026-03-14", "start_minute": int64(600)}},
		[]string{"id", "date", "start_minute"}, nil)
	src.On("GetTableData", mock.Anything, "reschedule_log").Return(
		[]map[string]interface{}{
			{"appointment_id": int64(1), "to_start": "10:15", "status": "ok"},
			{"appointment_id": int64(1), "to_start": "11:00", "status": "error"},
		},
		[]string{"appointment_id", "to_start", "status"}, nil)
	return src
}

func TestExport(t *testing.T) {
	svc := NewService(Config{}, newSource(), nil, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.Export(context.Background(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"appointments", "reschedule_log"}, f.GetSheetList())

	rows, err := f.GetRows("reschedule_log")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"appointment_id", "to_start", "status"}, rows[0])
	assert.Equal(t, []string{"1", "11:00", "error"}, rows[2])
}

func TestExport_SourceError(t *testing.T) {
	src := new(mockSource)
	src.On("GetTableNames", mock.Anything).Return([]string{"appointments"}, nil)
	src.On("GetTableData", mock.Anything, "appointments").Return(nil, nil, errors.New("locked"))

	svc := NewService(Config{}, src, nil, nil)
	err := svc.Export(context.Background(), &bytes.Buffer{})
	assert.ErrorContains(t, err, "locked")
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(Config{Dir: dir}, newSource(), nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 0, 1, 0, 0, time.Local) }

	path, err := svc.ExportToFile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reschedules_2026-03.xlsx"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestCleanup(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 1, 0, 0, time.Local)
	cleaner := new(mockCleaner)
	cleaner.On("DeleteRescheduleLogBefore", mock.Anything, now.AddDate(0, 0, -31)).Return(int64(4), nil).Once()

	svc := NewService(Config{RetentionDays: 31}, newSource(), cleaner, nil)
	svc.now = func() time.Time { return now }

	n, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	cleaner.AssertExpectations(t)

	keepAll := NewService(Config{}, newSource(), cleaner, nil)
	n, err = keepAll.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNextFirstOfMonth(t *testing.T) {
	svc := NewService(Config{}, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 12, 17, 15, 0, 0, 0, time.UTC) }
	assert.Equal(t, time.Date(2027, 1, 1, 0, 1, 0, 0, time.UTC), svc.nextFirstOfMonth())
}
