// Package ratelimit implements the per-IP limiter that sits ahead of
// POST /api/v1/upload, plus a general API limiter for everything else.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter rate-limits upload requests per client IP and API requests
// globally. A fresh per-IP limiter is created lazily on first use and
// reaped once the tracked set grows too large.
type Limiter struct {
	uploadRate  rate.Limit
	uploadBurst int

	apiLimiter *rate.Limiter

	ipLimiters map[string]*rate.Limiter
	mu         sync.Mutex

	allowed int64
	denied  int64
}

// Config controls the per-IP upload limiter. Rate is requests/second.
type Config struct {
	Rate  float64
	Burst int
}

// New constructs a Limiter. The API limiter runs considerably faster than
// the upload limiter since it guards cheap status/health lookups.
func New(cfg Config) *Limiter {
	return &Limiter{
		uploadRate:  rate.Limit(cfg.Rate),
		uploadBurst: cfg.Burst,
		apiLimiter:  rate.NewLimiter(rate.Limit(20), 40),
		ipLimiters:  make(map[string]*rate.Limiter),
	}
}

// AllowUpload reports whether an upload from ip is currently permitted.
func (l *Limiter) AllowUpload(ip string) bool {
	ok := l.ipLimiter(ip).Allow()
	l.record(ok)
	return ok
}

// AllowAPI reports whether a general API request is currently permitted.
func (l *Limiter) AllowAPI() bool {
	ok := l.apiLimiter.Allow()
	l.record(ok)
	return ok
}

func (l *Limiter) record(ok bool) {
	if ok {
		atomic.AddInt64(&l.allowed, 1)
	} else {
		atomic.AddInt64(&l.denied, 1)
	}
}

func (l *Limiter) ipLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, ok := l.ipLimiters[ip]; ok {
		return limiter
	}

	limiter := rate.NewLimiter(l.uploadRate, l.uploadBurst)
	l.ipLimiters[ip] = limiter

	if len(l.ipLimiters) > 500 {
		l.evictLocked()
	}

	return limiter
}

// evictLocked drops half the tracked IPs. Called with mu held. Map
// iteration order is random in Go, so the evicted half is an arbitrary
// subset; no last-seen times are tracked.
func (l *Limiter) evictLocked() {
	target := len(l.ipLimiters) / 2
	removed := 0
	for ip := range l.ipLimiters {
		delete(l.ipLimiters, ip)
		removed++
		if removed >= target {
			break
		}
	}
}

// Stats reports current limiter counters.
type Stats struct {
	Allowed    int64   `json:"allowed"`
	Denied     int64   `json:"denied"`
	DenialRate float64 `json:"denial_rate"`
	TrackedIPs int     `json:"tracked_ips"`
}

func (l *Limiter) Stats() Stats {
	allowed := atomic.LoadInt64(&l.allowed)
	denied := atomic.LoadInt64(&l.denied)

	var denialRate float64
	if total := allowed + denied; total > 0 {
		denialRate = float64(denied) / float64(total)
	}

	l.mu.Lock()
	tracked := len(l.ipLimiters)
	l.mu.Unlock()

	return Stats{
		Allowed:    allowed,
		Denied:     denied,
		DenialRate: denialRate,
		TrackedIPs: tracked,
	}
}

// QueueDepthProvider reports the worker pool's current queue depth and
// capacity, so the adaptive limiter can react to processing backlog instead
// of host memory pressure.
type QueueDepthProvider interface {
	QueueDepth() (depth, capacity int)
}

// Adaptive wraps a Limiter and periodically tightens or loosens the
// per-IP upload rate based on how backed up the worker pool's queue is,
// rather than the raw denial rate.
type Adaptive struct {
	*Limiter

	provider       QueueDepthProvider
	baseRate       rate.Limit
	adjustInterval time.Duration
	lastAdjustment time.Time
	mu             sync.Mutex
}

// NewAdaptive constructs an Adaptive limiter around base, polling provider
// for queue depth no more often than adjustInterval.
func NewAdaptive(base *Limiter, provider QueueDepthProvider, adjustInterval time.Duration) *Adaptive {
	return &Adaptive{
		Limiter:        base,
		provider:       provider,
		baseRate:       base.uploadRate,
		adjustInterval: adjustInterval,
		lastAdjustment: time.Now(),
	}
}

// Adjust tightens the per-IP upload rate when the worker queue is more than
// 75% full, and relaxes it back toward the configured baseline once the
// queue drains below 25%. It is a no-op if called again before
// adjustInterval has elapsed.
func (a *Adaptive) Adjust() {
	a.mu.Lock()
	if time.Since(a.lastAdjustment) < a.adjustInterval {
		a.mu.Unlock()
		return
	}
	a.lastAdjustment = time.Now()
	a.mu.Unlock()

	depth, capacity := a.provider.QueueDepth()
	if capacity == 0 {
		return
	}
	fill := float64(depth) / float64(capacity)

	a.Limiter.mu.Lock()
	defer a.Limiter.mu.Unlock()

	switch {
	case fill > 0.75:
		a.Limiter.uploadRate = a.Limiter.uploadRate / 2
	case fill < 0.25 && a.Limiter.uploadRate < a.baseRate:
		a.Limiter.uploadRate = a.Limiter.uploadRate * 2
		if a.Limiter.uploadRate > a.baseRate {
			a.Limiter.uploadRate = a.baseRate
		}
	default:
		return
	}

	for _, limiter := range a.Limiter.ipLimiters {
		limiter.SetLimit(a.Limiter.uploadRate)
	}
}
