package worker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

func newTestLogger(t *testing.T) *logging.ServiceLogger {
	t.Helper()
	logger, err := logging.New("worker-test", logging.DefaultConfig())
	require.NoError(t, err)
	return logger
}

func writeUpload(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestPool_ProcessesJobToCompletion(t *testing.T) {
	dir := t.TempDir()
	upload := writeUpload(t, dir, "in.gcode", "G1 X1 Y1 E1\n")
	output := filepath.Join(dir, "out.gcode")

	registry := job.NewRegistry(nil)
	pool := New(Config{MaxConcurrentJobs: 2, ProcessingTimeout: 5 * time.Second}, registry, nil, newTestLogger(t))
	defer pool.Shutdown(time.Second)

	j := &job.Job{ID: "job-1", UploadPath: upload, OutputPath: output, ExtrusionMultiplier: 1.0}
	registry.Register(j)

	require.NoError(t, pool.Submit(j))

	require.Eventually(t, func() bool {
		got, _ := registry.Get("job-1")
		return got.State == job.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	contents, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "G1 X1 Y1")
}

func TestPool_FailsOnMissingUpload(t *testing.T) {
	dir := t.TempDir()
	registry := job.NewRegistry(nil)
	pool := New(Config{MaxConcurrentJobs: 1, ProcessingTimeout: 2 * time.Second}, registry, nil, newTestLogger(t))
	defer pool.Shutdown(time.Second)

	j := &job.Job{ID: "job-1", UploadPath: filepath.Join(dir, "missing.gcode"), OutputPath: filepath.Join(dir, "out.gcode")}
	registry.Register(j)
	require.NoError(t, pool.Submit(j))

	require.Eventually(t, func() bool {
		got, _ := registry.Get("job-1")
		return got.State == job.StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_TimesOutLongRunningJob(t *testing.T) {
	dir := t.TempDir()
	// Large body forces CaptureUpload-adjacent streaming to take long enough
	// relative to a tiny timeout, without needing a real sleep hook.
	var body strings.Builder
	for i := 0; i < 5000; i++ {
		body.WriteString("G1 X1 Y1 E1\n")
	}
	upload := writeUpload(t, dir, "in.gcode", body.String())
	output := filepath.Join(dir, "out.gcode")

	registry := job.NewRegistry(nil)
	pool := New(Config{MaxConcurrentJobs: 1, ProcessingTimeout: 1 * time.Nanosecond}, registry, nil, newTestLogger(t))
	defer pool.Shutdown(time.Second)

	j := &job.Job{ID: "job-1", UploadPath: upload, OutputPath: output, ExtrusionMultiplier: 1.0}
	registry.Register(j)
	require.NoError(t, pool.Submit(j))

	require.Eventually(t, func() bool {
		got, _ := registry.Get("job-1")
		return got.State == job.StateTimeout
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPool_RespectsCancellation(t *testing.T) {
	dir := t.TempDir()
	var body strings.Builder
	for i := 0; i < 5000; i++ {
		body.WriteString("G1 X1 Y1 E1\n")
	}
	upload := writeUpload(t, dir, "in.gcode", body.String())
	output := filepath.Join(dir, "out.gcode")

	registry := job.NewRegistry(nil)
	pool := New(Config{MaxConcurrentJobs: 1, ProcessingTimeout: 5 * time.Second}, registry, nil, newTestLogger(t))
	defer pool.Shutdown(time.Second)

	j := &job.Job{ID: "job-1", UploadPath: upload, OutputPath: output, ExtrusionMultiplier: 1.0}
	registry.Register(j)
	require.NoError(t, pool.Submit(j))

	require.Eventually(t, func() bool {
		got, _ := registry.Get("job-1")
		return got.State == job.StateProcessing
	}, time.Second, time.Millisecond)

	require.NoError(t, registry.RequestCancel("job-1"))

	require.Eventually(t, func() bool {
		got, _ := registry.Get("job-1")
		return got.State == job.StateCancelled
	}, 2*time.Second, 10*time.Millisecond)

	_, err := os.Stat(output)
	assert.True(t, os.IsNotExist(err), "partial output must be deleted on cancellation")
}

func TestPool_GetStatsReflectsActivity(t *testing.T) {
	dir := t.TempDir()
	upload := writeUpload(t, dir, "in.gcode", "G1 X1 Y1 E1\n")

	registry := job.NewRegistry(nil)
	pool := New(Config{MaxConcurrentJobs: 2, ProcessingTimeout: 5 * time.Second}, registry, nil, newTestLogger(t))
	defer pool.Shutdown(time.Second)

	j := &job.Job{ID: "job-1", UploadPath: upload, OutputPath: filepath.Join(dir, "out.gcode"), ExtrusionMultiplier: 1.0}
	registry.Register(j)
	require.NoError(t, pool.Submit(j))

	require.Eventually(t, func() bool {
		return pool.GetStats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)

	stats := pool.GetStats()
	assert.Equal(t, int64(2), stats.Capacity)
	assert.Equal(t, int64(1), stats.TotalQueued)
}
