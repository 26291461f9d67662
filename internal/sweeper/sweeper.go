// Package sweeper implements the retention sweeper: a single long-lived
// ticker goroutine that deletes files older than FILE_RETENTION_HOURS from
// the upload and output directories, non-recursively, logging and
// continuing past any single file's error rather than failing the sweep.
package sweeper

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

// diskPressureThreshold is the used-space percentage at or above which the
// sweeper logs a warning. It never refuses to run, and never deletes more
// aggressively in response — this is observability only.
const diskPressureThreshold = 90.0

// Report summarizes one sweep pass.
type Report struct {
	Timestamp  time.Time      `json:"timestamp"`
	Deleted    map[string]int `json:"deleted_by_dir"`
	BytesFreed int64          `json:"bytes_freed"`
	Errors     int            `json:"errors"`
}

// Sweeper owns the retention ticker loop.
type Sweeper struct {
	dirs      []string
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	mu         sync.Mutex
	lastReport Report
}

// New creates a sweeper targeting uploadDir and outputDir.
func New(uploadDir, outputDir string, retention, interval time.Duration, logger *logging.ServiceLogger) *Sweeper {
	return &Sweeper{
		dirs:      []string{uploadDir, outputDir},
		retention: retention,
		interval:  interval,
		logger:    logger.ForSweeper(),
		stop:      make(chan struct{}),
	}
}

// Start begins the background ticker loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop cancels the ticker loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce performs a single sweep pass across every target directory and
// records a free-disk-space sample. It never returns an error: per-file
// failures are logged and skipped, a missing directory is skipped silently,
// and an unreadable one is logged, counted as an error, and treated as zero
// deletions.
func (s *Sweeper) RunOnce() Report {
	report := Report{
		Timestamp: time.Now(),
		Deleted:   make(map[string]int),
	}

	cutoff := time.Now().Add(-s.retention)

	for _, dir := range s.dirs {
		deleted, freed, errs := sweepDir(dir, cutoff, s.logger)
		report.Deleted[dir] = deleted
		report.BytesFreed += freed
		report.Errors += errs
	}

	s.observeDiskPressure()

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()

	s.logger.Info("sweep complete",
		slog.Any("deleted_by_dir", report.Deleted),
		slog.Int64("bytes_freed", report.BytesFreed),
		slog.Int("errors", report.Errors),
	)

	return report
}

// LastReport returns the most recently completed sweep's report, for the
// detailed health endpoint.
func (s *Sweeper) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

// sweepDir deletes files older than cutoff directly inside dir. It does not
// recurse into subdirectories.
func sweepDir(dir string, cutoff time.Time, logger *slog.Logger) (deleted int, bytesFreed int64, errs int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read directory for sweep", slog.String("dir", dir), slog.Any("error", err))
			errs++
		}
		return 0, 0, errs
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logger.Warn("could not stat file during sweep", slog.String("file", entry.Name()), slog.Any("error", err))
			errs++
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		full := filepath.Join(dir, entry.Name())
		if err := os.Remove(full); err != nil {
			logger.Warn("could not delete expired file", slog.String("file", full), slog.Any("error", err))
			errs++
			continue
		}
		deleted++
		bytesFreed += info.Size()
	}

	return deleted, bytesFreed, errs
}

// observeDiskPressure warns when used space on the upload volume reaches
// diskPressureThreshold percent. It never alters sweep behavior.
func (s *Sweeper) observeDiskPressure() {
	if len(s.dirs) == 0 {
		return
	}
	usage, err := disk.Usage(s.dirs[0])
	if err != nil {
		s.logger.Debug("disk usage sample unavailable", slog.Any("error", err))
		return
	}
	if usage.UsedPercent >= diskPressureThreshold {
		s.logger.Warn("disk usage above threshold",
			slog.Float64("used_percent", usage.UsedPercent),
			slog.String("path", s.dirs[0]),
		)
	}
}
