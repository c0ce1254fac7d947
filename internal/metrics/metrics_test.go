package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(c *Collector, category string, ms float64, outcome Outcome) {
	c.Record(Sample{Category: category, Command: "cmd", ElapsedMS: ms, Outcome: outcome})
}

func TestCountMatchesOutcomeBreakdown(t *testing.T) {
	c := New(0)
	record(c, "basic", 1, Success)
	record(c, "basic", 2, Success)
	record(c, "basic", 3, ClientError)
	record(c, "basic", 4, ServerError)
	record(c, "basic", 5, Timeout)
	record(c, "basic", 0, Rejected)

	cs := c.Snapshot().Categories["basic"]
	require.Equal(t, uint64(6), cs.Count)
	sum := cs.Successful + cs.ClientErrors + cs.ServerErrors + cs.Timeouts + cs.Rejected
	assert.Equal(t, cs.Count, sum)
}

func TestPercentilesAreWellFormed(t *testing.T) {
	c := New(0)
	for i := 1; i <= 200; i++ {
		record(c, "cpu_bound", float64(i), Success)
	}

	cs := c.Snapshot().Categories["cpu_bound"]
	assert.LessOrEqual(t, cs.Min, cs.P50)
	assert.LessOrEqual(t, cs.P50, cs.P95)
	assert.LessOrEqual(t, cs.P95, cs.P99)
	assert.LessOrEqual(t, cs.P99, cs.Max)
	assert.Equal(t, 1.0, cs.Min)
	assert.Equal(t, 200.0, cs.Max)
	assert.Equal(t, 100.0, cs.P50)
	assert.Equal(t, 190.0, cs.P95)
	assert.Equal(t, 198.0, cs.P99)
}

func TestRingOverflowKeepsFullHistoryTotals(t *testing.T) {
	c := New(4)
	for i := 1; i <= 10; i++ {
		record(c, "io_bound", float64(i), Success)
	}

	cs := c.Snapshot().Categories["io_bound"]
	// Running totals cover all 10 samples even though the ring kept 4.
	assert.Equal(t, uint64(10), cs.Count)
	assert.Equal(t, 1.0, cs.Min)
	assert.Equal(t, 10.0, cs.Max)
	assert.InDelta(t, 5.5, cs.Mean, 1e-9)
	// Percentiles come from the surviving ring window (7, 8, 9, 10).
	assert.GreaterOrEqual(t, cs.P50, 7.0)
}

func TestStdDevIsPopulation(t *testing.T) {
	c := New(0)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		record(c, "basic", v, Success)
	}
	cs := c.Snapshot().Categories["basic"]
	assert.InDelta(t, 2.0, cs.StdDev, 1e-9)
}

func TestNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 20.0, nearestRank(sorted, 0.50))
	assert.Equal(t, 40.0, nearestRank(sorted, 0.95))
	assert.Equal(t, 10.0, nearestRank(sorted, 0.0))
	assert.Equal(t, 0.0, nearestRank(nil, 0.5))
}

func TestRegisteredGaugesShowUpInSnapshot(t *testing.T) {
	c := New(0)
	c.RegisterGauges("cpu_bound", GaugeProvider{
		QueueDepth: func() int { return 3 },
		Busy:       func() int { return 2 },
		Capacity:   32,
		Workers:    4,
	})
	record(c, "cpu_bound", 1, Success)

	cs := c.Snapshot().Categories["cpu_bound"]
	assert.Equal(t, 3, cs.QueueDepth)
	assert.Equal(t, 2, cs.Busy)
	assert.Equal(t, 32, cs.Capacity)
	assert.Equal(t, 4, cs.Workers)
}

func TestSubscribeSeesEverySample(t *testing.T) {
	c := New(0)
	var got []Sample
	c.Subscribe(func(s Sample) { got = append(got, s) })

	record(c, "basic", 1, Success)
	record(c, "io_bound", 2, Timeout)

	require.Len(t, got, 2)
	assert.Equal(t, "basic", got[0].Category)
	assert.Equal(t, Timeout, got[1].Outcome)
}

func TestGlobalRollupAggregatesCategories(t *testing.T) {
	c := New(0)
	record(c, "basic", 1, Success)
	record(c, "basic", 3, Success)
	record(c, "cpu_bound", 100, ServerError)

	snap := c.Snapshot()
	assert.Equal(t, uint64(3), snap.Global.Count)
	assert.Equal(t, uint64(2), snap.Global.Successful)
	assert.Equal(t, uint64(1), snap.Global.ServerErrors)
	assert.Equal(t, 1.0, snap.Global.Min)
	assert.Equal(t, 100.0, snap.Global.Max)
	assert.LessOrEqual(t, snap.Global.P50, snap.Global.P99)
}

func TestThroughputCountsOnlyTheWindow(t *testing.T) {
	c := New(0)
	base := time.Now()
	now := base
	c.clock = func() time.Time { return now }

	record(c, "basic", 1, Success)
	record(c, "basic", 1, Success)

	// Two completions within the window.
	now = base.Add(10 * time.Second)
	cs := c.Snapshot().Categories["basic"]
	assert.Greater(t, cs.ThroughputRPS, 0.0)

	// Far past the window both samples age out.
	now = base.Add(10 * time.Minute)
	cs = c.Snapshot().Categories["basic"]
	assert.Equal(t, 0.0, cs.ThroughputRPS)
}

func TestEmptySnapshotIsZeroNotNaN(t *testing.T) {
	c := New(0)
	snap := c.Snapshot()
	assert.Equal(t, uint64(0), snap.Global.Count)
	assert.False(t, math.IsNaN(snap.Global.Mean))
	assert.False(t, math.IsNaN(snap.Global.StdDev))
}
