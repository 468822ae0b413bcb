package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Incr("requests.webhook_generate", 1)
	r.Incr("requests.webhook_generate", 2)

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap.Counters["requests.webhook_generate"])
}

func TestRecordErrorIncrementsCounterAndRing(t *testing.T) {
	r := NewRegistry()
	r.RecordError("gateway_timeout", "provider did not respond")

	snap := r.Snapshot()
	require.Len(t, snap.RecentErrors, 1)
	assert.Equal(t, "gateway_timeout", snap.RecentErrors[0].Name)
	assert.Equal(t, int64(1), snap.Counters["errors.gateway_timeout"])
}

func TestErrorRingIsBounded(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxErrorEvents+50; i++ {
		r.RecordError("x", "boom")
	}
	snap := r.Snapshot()
	assert.Len(t, snap.RecentErrors, maxErrorEvents)
}

func TestLatencyPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.RecordLatency("/webhook/generate", float64(i))
	}
	snap := r.Snapshot()
	p := snap.LatencyPercentiles["/webhook/generate"]
	assert.Equal(t, 100, p.Count)
	assert.InDelta(t, 50, p.P50, 2)
	assert.InDelta(t, 95, p.P95, 2)
	assert.InDelta(t, 99, p.P99, 2)
}

func TestLatencyRingIsBounded(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < maxLatencySamples+100; i++ {
		r.RecordLatency("ep", 1.0)
	}
	snap := r.Snapshot()
	assert.Equal(t, maxLatencySamples, snap.LatencyPercentiles["ep"].Count)
}

func TestConcurrentAccessDoesNotRace(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Incr("requests.x", 1)
			r.RecordLatency("ep", 5)
			r.RecordError("e", "boom")
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	assert.Equal(t, int64(50), snap.Counters["requests.x"])
}

func TestSnapshotCountersSumBoundsTimeSeries(t *testing.T) {
	r := NewRegistry()
	r.Incr("requests.a", 5)
	snap := r.Snapshot()

	var bucketSum int64
	for _, c := range snap.TimeSeries["requests.a"] {
		bucketSum += c
	}
	assert.LessOrEqual(t, bucketSum, snap.Counters["requests.a"])
}
