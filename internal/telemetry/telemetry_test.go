package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/Guti2010/compute-server/internal/metrics"
)

func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %q not found", name)
	return nil
}

func TestRecordIncrementsRequestsAndObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	e.Record(metrics.Sample{Category: "cpu_bound", Command: "isprime", ElapsedMS: 12, Outcome: metrics.Success})
	e.Record(metrics.Sample{Category: "cpu_bound", Command: "isprime", ElapsedMS: 8, Outcome: metrics.Success})
	e.Record(metrics.Sample{Category: "cpu_bound", Command: "isprime", ElapsedMS: 500, Outcome: metrics.Timeout})

	counters := gatherMetric(t, reg, "compute_server_requests_total")
	var successTotal, timeoutTotal float64
	for _, m := range counters.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "outcome" && l.GetValue() == "success" {
				successTotal = m.GetCounter().GetValue()
			}
			if l.GetName() == "outcome" && l.GetValue() == "timeout" {
				timeoutTotal = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(2), successTotal)
	require.Equal(t, float64(1), timeoutTotal)

	hist := gatherMetric(t, reg, "compute_server_request_latency_ms")
	require.Len(t, hist.GetMetric(), 1)
	require.EqualValues(t, 3, hist.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestRefreshGaugesReflectsSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter(reg)

	snap := metrics.Snapshot{
		Categories: map[string]metrics.CategorySnapshot{
			"io_bound": {QueueDepth: 4, Busy: 2, Capacity: 16, Workers: 3},
		},
	}
	e.RefreshGauges(snap)

	depth := gatherMetric(t, reg, "compute_server_queue_depth")
	require.Len(t, depth.GetMetric(), 1)
	require.Equal(t, float64(4), depth.GetMetric()[0].GetGauge().GetValue())

	busy := gatherMetric(t, reg, "compute_server_workers_busy")
	require.Len(t, busy.GetMetric(), 1)
	require.Equal(t, float64(2), busy.GetMetric()[0].GetGauge().GetValue())
}

func TestNewExporterPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewExporter(reg)
	require.Panics(t, func() { NewExporter(reg) })
}
