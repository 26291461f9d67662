package sweeper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

func newTestLogger(t *testing.T) *logging.ServiceLogger {
	t.Helper()
	logger, err := logging.New("sweeper-test", logging.DefaultConfig())
	require.NoError(t, err)
	return logger
}

func touchWithAge(t *testing.T, path string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestSweeper_DeletesOnlyExpiredFiles(t *testing.T) {
	uploadDir := t.TempDir()
	outputDir := t.TempDir()

	touchWithAge(t, filepath.Join(uploadDir, "old.gcode"), 48*time.Hour)
	touchWithAge(t, filepath.Join(uploadDir, "fresh.gcode"), time.Minute)

	s := New(uploadDir, outputDir, 24*time.Hour, time.Hour, newTestLogger(t))
	report := s.RunOnce()

	assert.Equal(t, 1, report.Deleted[uploadDir])
	assert.Equal(t, int64(1), report.BytesFreed, "bytes_freed should count the deleted file's size")
	_, err := os.Stat(filepath.Join(uploadDir, "fresh.gcode"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(uploadDir, "old.gcode"))
	assert.True(t, os.IsNotExist(err))
}

func TestSweeper_DoesNotRecurseIntoSubdirectories(t *testing.T) {
	uploadDir := t.TempDir()
	outputDir := t.TempDir()

	sub := filepath.Join(uploadDir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	touchWithAge(t, filepath.Join(sub, "old.gcode"), 48*time.Hour)

	s := New(uploadDir, outputDir, 24*time.Hour, time.Hour, newTestLogger(t))
	report := s.RunOnce()

	assert.Equal(t, 0, report.Deleted[uploadDir])
	_, err := os.Stat(filepath.Join(sub, "old.gcode"))
	assert.NoError(t, err, "nested file must survive a non-recursive sweep")
}

func TestSweeper_MissingDirectoryIsNotFatal(t *testing.T) {
	uploadDir := filepath.Join(t.TempDir(), "does-not-exist")
	outputDir := t.TempDir()

	s := New(uploadDir, outputDir, 24*time.Hour, time.Hour, newTestLogger(t))
	report := s.RunOnce()

	assert.Equal(t, 0, report.Errors)
}

func TestSweeper_StartStop(t *testing.T) {
	uploadDir := t.TempDir()
	outputDir := t.TempDir()

	s := New(uploadDir, outputDir, time.Hour, 10*time.Millisecond, newTestLogger(t))
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.False(t, s.LastReport().Timestamp.IsZero())
}
