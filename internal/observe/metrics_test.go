package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"knowledgeminer.acquisition.duration", m.AcquisitionDuration},
		{"knowledgeminer.normalize.duration", m.NormalizeDuration},
		{"knowledgeminer.transcribe.duration", m.TranscribeDuration},
		{"knowledgeminer.mine.duration", m.MineDuration},
		{"knowledgeminer.evaluate.duration", m.EvaluateDuration},
		{"knowledgeminer.store.duration", m.StoreDuration},
		{"knowledgeminer.llm.request.duration", m.LLMRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 1.23)
		tc.h.Record(ctx, 4.56)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestStageTransitionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageTransition(ctx, "mining", "completed")
	m.RecordStageTransition(ctx, "mining", "completed")
	m.RecordStageTransition(ctx, "mining", "failed")

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.stage.transitions")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "status" && kv.Value.AsString() == "completed" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with status=completed not found")
}

func TestLLMTokensCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMTokens(ctx, "anyllm", 100, 40)

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.llm.tokens")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	var sawIn, sawOut bool
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) != "direction" {
				continue
			}
			switch kv.Value.AsString() {
			case "in":
				sawIn = true
				if dp.Value != 100 {
					t.Errorf("in tokens = %d, want 100", dp.Value)
				}
			case "out":
				sawOut = true
				if dp.Value != 40 {
					t.Errorf("out tokens = %d, want 40", dp.Value)
				}
			}
		}
	}
	if !sawIn || !sawOut {
		t.Error("expected both in and out data points")
	}
}

func TestLLMRetriesCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordLLMRetry(ctx, "anyllm", "rate_limit_medium")
	m.RecordLLMRetry(ctx, "anyllm", "rate_limit_medium")

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.llm.retries")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("counter value mismatch: %+v", sum.DataPoints)
	}
}

func TestPipelineErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordPipelineError(ctx, "transcription", "transcription_quality_error")

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.pipeline.errors")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("counter value = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestRepairInvocationsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRepairInvocation(ctx, "recovered")
	m.RecordRepairInvocation(ctx, "recovered")
	m.RecordRepairInvocation(ctx, "still_invalid")

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.mine.repair_invocations")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "outcome" && kv.Value.AsString() == "recovered" {
				if dp.Value != 2 {
					t.Errorf("counter value = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with outcome=recovered not found")
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveJobRuns.Add(ctx, 5)
	m.QueueDepth.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "mining")))
	m.QueueDepth.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", "mining")))
	m.CircuitBreakerOpen.Add(ctx, 1)

	rm := collect(t, reader)

	met := findMetric(rm, "knowledgeminer.active_job_runs")
	if met == nil {
		t.Fatal("active_job_runs metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("active_job_runs is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 5 {
		t.Errorf("active_job_runs = %+v, want 5", sum.DataPoints)
	}

	met = findMetric(rm, "knowledgeminer.queue_depth")
	if met == nil {
		t.Fatal("queue_depth metric not found")
	}
	sum, ok = met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("queue_depth is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 2 {
		t.Errorf("queue_depth = %+v, want 2", sum.DataPoints)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "knowledgeminer.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
