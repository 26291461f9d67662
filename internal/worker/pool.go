// Package worker implements the bounded-concurrency job processing pool:
// a bounded FIFO admission queue (1024 jobs unless configured otherwise;
// Submit refuses rather than blocks when it is full) gated by a semaphore sized to
// MAX_CONCURRENT_JOBS, a per-job timeout supervisor, and cooperative
// cancellation checked every 1000 emitted lines and at end-of-stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/bricklayers"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/filestore"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/internal/job"
	"github.com/minimal3dp/m3dp-Orcaslicer-Script-Runner/pkg/logging"
)

const checkpointInterval = 1000

// errCancelled is the internal sentinel used to unwind out of process() when
// cooperative cancellation is observed; it never escapes the package.
var errCancelled = errors.New("job cancelled during processing")

// Archiver is the narrow interface the pool needs from the output archive;
// satisfied by internal/archive.Archive. A nil Archiver disables archiving.
type Archiver interface {
	Enabled() bool
	ArchiveOutput(ctx context.Context, jobID, path string) error
}

// Pool is the worker pool. Submit enqueues work; a single dispatcher
// goroutine pulls from the queue in FIFO order and acquires the semaphore
// before spawning a per-job goroutine, so at most `capacity` jobs process
// concurrently regardless of queue depth.
type Pool struct {
	sem      *semaphore.Weighted
	queue    chan *job.Job
	registry *job.Registry
	archiver Archiver
	logger   *logging.ServiceLogger
	timeout  time.Duration
	capacity int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed int64
	failed    int64
	timedOut  int64
	cancelled int64
	queued    int64
}

// Config configures the pool.
type Config struct {
	MaxConcurrentJobs int
	ProcessingTimeout time.Duration
	QueueCapacity     int // 0 means a generous default
}

// New creates a pool and starts its dispatcher goroutine.
func New(cfg Config, registry *job.Registry, archiver Archiver, logger *logging.ServiceLogger) *Pool {
	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		queue:    make(chan *job.Job, queueCap),
		registry: registry,
		archiver: archiver,
		logger:   logger,
		timeout:  cfg.ProcessingTimeout,
		capacity: int64(cfg.MaxConcurrentJobs),
		ctx:      ctx,
		cancel:   cancel,
	}

	go p.dispatch()

	return p
}

// Submit enqueues a job for processing. It is non-blocking: if the queue is
// full, it returns an unavailable error rather than blocking the caller.
func (p *Pool) Submit(j *job.Job) error {
	select {
	case p.queue <- j:
		atomic.AddInt64(&p.queued, 1)
		return nil
	case <-p.ctx.Done():
		return logging.ErrUnavailable("worker pool is shutting down")
	default:
		return logging.ErrUnavailable("worker pool queue is full")
	}
}

func (p *Pool) dispatch() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			if err := p.sem.Acquire(p.ctx, 1); err != nil {
				return // context cancelled while waiting for a slot
			}
			p.wg.Add(1)
			go p.runJob(j)
		}
	}
}

func (p *Pool) runJob(j *job.Job) {
	defer p.sem.Release(1)
	defer p.wg.Done()

	logger := p.logger.ForJob(j.ID)

	if err := p.registry.Transition(j.ID, job.StateProcessing, ""); err != nil {
		logger.Error("could not start processing", slog.Any("error", err))
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- p.process(j)
	}()

	select {
	case err := <-done:
		p.finish(j, err, logger)
	case <-time.After(p.timeout):
		atomic.AddInt64(&p.timedOut, 1)
		if err := p.registry.Transition(j.ID, job.StateTimeout, "processing exceeded PROCESSING_TIMEOUT"); err != nil {
			logger.Warn("timeout transition rejected, job already terminal", slog.Any("error", err))
		}
		logger.Warn("job timed out; underlying goroutine cannot be killed and will finish in the background")
		// The streaming goroutine above is not interrupted by the timeout —
		// only the transition loses the race. Drain its result so it
		// doesn't leak, but its outcome no longer changes job state.
		go func() {
			<-done
		}()
	}
}

// process streams the upload through the BrickLayers processor into the
// output path, checking for cooperative cancellation every checkpointInterval
// lines and once more at end-of-stream.
func (p *Pool) process(j *job.Job) error {
	src, err := os.Open(j.UploadPath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(j.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer dst.Close()

	proc := bricklayers.New(j.ExtrusionMultiplier, j.StartAtLayer, 0)
	stream := proc.NewStream(src)

	var lines, written int64
	for {
		line, ok, err := stream.Next()
		if err != nil {
			return fmt.Errorf("process g-code: %w", err)
		}
		if !ok {
			break
		}
		n, err := dst.WriteString(line + "\n")
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		lines++
		written += int64(n)
		atomic.StoreInt64(&j.BytesProcessed, written)

		if lines%checkpointInterval == 0 && j.CancelRequested() {
			return errCancelled
		}
	}

	if j.CancelRequested() {
		return errCancelled
	}

	return nil
}

func (p *Pool) finish(j *job.Job, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, errCancelled):
		atomic.AddInt64(&p.cancelled, 1)
		if delErr := filestore.Delete(j.OutputPath); delErr != nil {
			logger.Warn("could not delete partial output after cancellation", slog.Any("error", delErr))
		}
		if tErr := p.registry.Transition(j.ID, job.StateCancelled, "cancelled during processing"); tErr != nil {
			logger.Warn("cancel transition rejected, job already terminal", slog.Any("error", tErr))
		}
		return
	case err != nil:
		atomic.AddInt64(&p.failed, 1)
		if tErr := p.registry.Transition(j.ID, job.StateFailed, err.Error()); tErr != nil {
			logger.Warn("fail transition rejected, job already terminal", slog.Any("error", tErr))
		}
		return
	}

	atomic.AddInt64(&p.processed, 1)
	if tErr := p.registry.Transition(j.ID, job.StateCompleted, ""); tErr != nil {
		logger.Warn("completion transition rejected, job already terminal", slog.Any("error", tErr))
		return
	}

	if p.archiver != nil && p.archiver.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if aerr := p.archiver.ArchiveOutput(ctx, j.ID, j.OutputPath); aerr != nil {
				logger.Warn("output archive upload failed", slog.Any("error", logging.ErrArchive(j.ID, aerr)))
			}
		}()
	}
}

// Stats is a point-in-time snapshot of pool activity, surfaced on the
// detailed health endpoint.
type Stats struct {
	Capacity       int64 `json:"capacity"`
	QueueDepth     int   `json:"queue_depth"`
	QueueCapacity  int   `json:"queue_capacity"`
	TotalQueued    int64 `json:"total_queued"`
	Processed      int64 `json:"processed"`
	Failed         int64 `json:"failed"`
	TimedOut       int64 `json:"timed_out"`
	Cancelled      int64 `json:"cancelled"`
}

// QueueDepth reports the current queue length and capacity, letting the
// adaptive rate limiter react to processing backlog.
func (p *Pool) QueueDepth() (depth, capacity int) {
	return len(p.queue), cap(p.queue)
}

func (p *Pool) GetStats() Stats {
	return Stats{
		Capacity:      p.capacity,
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		TotalQueued:   atomic.LoadInt64(&p.queued),
		Processed:     atomic.LoadInt64(&p.processed),
		Failed:        atomic.LoadInt64(&p.failed),
		TimedOut:      atomic.LoadInt64(&p.timedOut),
		Cancelled:     atomic.LoadInt64(&p.cancelled),
	}
}

// Shutdown stops accepting new dispatches and waits up to timeout for
// in-flight jobs to finish.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}
