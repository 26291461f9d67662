package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowUpload_PerIPIsolation(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 1})

	assert.True(t, l.AllowUpload("1.2.3.4"))
	assert.False(t, l.AllowUpload("1.2.3.4"), "burst of 1 exhausted")

	assert.True(t, l.AllowUpload("5.6.7.8"), "a different IP has its own bucket")
}

func TestLimiter_Stats_TracksAllowedAndDenied(t *testing.T) {
	l := New(Config{Rate: 1, Burst: 1})
	l.AllowUpload("1.1.1.1")
	l.AllowUpload("1.1.1.1")

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.Allowed)
	assert.Equal(t, int64(1), stats.Denied)
	assert.InDelta(t, 0.5, stats.DenialRate, 0.001)
	assert.Equal(t, 1, stats.TrackedIPs)
}

type fakeQueueDepth struct {
	depth, capacity int
}

func (f fakeQueueDepth) QueueDepth() (int, int) { return f.depth, f.capacity }

func TestAdaptive_TightensRateWhenQueueNearlyFull(t *testing.T) {
	base := New(Config{Rate: 10, Burst: 10})
	a := NewAdaptive(base, fakeQueueDepth{depth: 90, capacity: 100}, time.Millisecond)

	time.Sleep(2 * time.Millisecond)
	a.Adjust()

	assert.Equal(t, float64(5), float64(base.uploadRate))
}

func TestAdaptive_NoopWithinAdjustInterval(t *testing.T) {
	base := New(Config{Rate: 10, Burst: 10})
	a := NewAdaptive(base, fakeQueueDepth{depth: 90, capacity: 100}, time.Hour)

	a.Adjust()
	assert.Equal(t, float64(10), float64(base.uploadRate))
}
