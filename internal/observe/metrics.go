// Package observe provides application-wide observability primitives for
// the knowledge-mining pipeline: OpenTelemetry metrics, distributed
// tracing, structured logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all pipeline metrics.
const meterName = "github.com/knowledgeminer/knowledgeminer"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage (C2-C12) ---

	// AcquisitionDuration tracks one URL's download attempt latency.
	AcquisitionDuration metric.Float64Histogram

	// NormalizeDuration tracks audio normalization latency (C3).
	NormalizeDuration metric.Float64Histogram

	// TranscribeDuration tracks batch transcription latency (C4).
	TranscribeDuration metric.Float64Histogram

	// MineDuration tracks one unified-miner window call (C6).
	MineDuration metric.Float64Histogram

	// EvaluateDuration tracks one flagship/entity evaluator call (C8/C9).
	EvaluateDuration metric.Float64Histogram

	// StoreDuration tracks one Claim Store atomic write (C12).
	StoreDuration metric.Float64Histogram

	// LLMRequestDuration tracks a single LLM Adapter round trip (C10).
	LLMRequestDuration metric.Float64Histogram

	// --- Counters ---

	// StageTransitions counts Source-Stage-Status writes. Use with
	// attributes: attribute.String("stage", ...), attribute.String("status", ...)
	StageTransitions metric.Int64Counter

	// LLMTokens counts prompt/completion tokens consumed. Use with
	// attributes: attribute.String("provider", ...), attribute.String("direction", "in"|"out")
	LLMTokens metric.Int64Counter

	// LLMRetries counts LLM Adapter retry attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("error_code", ...)
	LLMRetries metric.Int64Counter

	// ClaimsExtracted counts claims written by the Claim Store per source.
	ClaimsExtracted metric.Int64Counter

	// RepairInvocations counts unified-miner JSON repair-pass invocations.
	// Use with attribute.String("outcome", "recovered"|"still_invalid").
	RepairInvocations metric.Int64Counter

	// --- Error counters ---

	// PipelineErrors counts errors by stage and error code. Use with
	// attributes: attribute.String("stage", ...), attribute.String("error_code", ...)
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveJobRuns tracks the number of currently running job runs.
	ActiveJobRuns metric.Int64UpDownCounter

	// QueueDepth tracks the number of sources queued for a given stage.
	// Use with attribute.String("stage", ...).
	QueueDepth metric.Int64UpDownCounter

	// CircuitBreakerOpen tracks the number of currently open circuit
	// breakers across LLM/STT backends.
	CircuitBreakerOpen metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (health/readiness
	// endpoints). Use with attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from a single LLM call (sub-second) to a full transcription
// pass (minutes).
var latencyBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AcquisitionDuration, err = m.Float64Histogram("knowledgeminer.acquisition.duration",
		metric.WithDescription("Latency of one URL acquisition attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NormalizeDuration, err = m.Float64Histogram("knowledgeminer.normalize.duration",
		metric.WithDescription("Latency of audio normalization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("knowledgeminer.transcribe.duration",
		metric.WithDescription("Latency of batch transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MineDuration, err = m.Float64Histogram("knowledgeminer.mine.duration",
		metric.WithDescription("Latency of one unified-miner window call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EvaluateDuration, err = m.Float64Histogram("knowledgeminer.evaluate.duration",
		metric.WithDescription("Latency of one flagship or entity evaluator call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("knowledgeminer.store.duration",
		metric.WithDescription("Latency of one Claim Store atomic write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMRequestDuration, err = m.Float64Histogram("knowledgeminer.llm.request.duration",
		metric.WithDescription("Latency of a single LLM Adapter round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.StageTransitions, err = m.Int64Counter("knowledgeminer.stage.transitions",
		metric.WithDescription("Total Source-Stage-Status writes by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("knowledgeminer.llm.tokens",
		metric.WithDescription("Total LLM tokens consumed by provider and direction."),
	); err != nil {
		return nil, err
	}
	if met.LLMRetries, err = m.Int64Counter("knowledgeminer.llm.retries",
		metric.WithDescription("Total LLM Adapter retry attempts by provider and error code."),
	); err != nil {
		return nil, err
	}
	if met.ClaimsExtracted, err = m.Int64Counter("knowledgeminer.claims.extracted",
		metric.WithDescription("Total claims written to the Claim Store."),
	); err != nil {
		return nil, err
	}
	if met.RepairInvocations, err = m.Int64Counter("knowledgeminer.mine.repair_invocations",
		metric.WithDescription("Total unified-miner JSON repair-pass invocations by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PipelineErrors, err = m.Int64Counter("knowledgeminer.pipeline.errors",
		metric.WithDescription("Total pipeline errors by stage and error code."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveJobRuns, err = m.Int64UpDownCounter("knowledgeminer.active_job_runs",
		metric.WithDescription("Number of currently running job runs."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("knowledgeminer.queue_depth",
		metric.WithDescription("Number of sources queued for a given stage."),
	); err != nil {
		return nil, err
	}
	if met.CircuitBreakerOpen, err = m.Int64UpDownCounter("knowledgeminer.circuit_breaker.open",
		metric.WithDescription("Number of currently open circuit breakers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("knowledgeminer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStageTransition is a convenience method that records a
// Source-Stage-Status write.
func (m *Metrics) RecordStageTransition(ctx context.Context, stage, status string) {
	m.StageTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordLLMTokens is a convenience method that records prompt and
// completion token counts for one LLM Adapter request.
func (m *Metrics) RecordLLMTokens(ctx context.Context, provider string, promptTokens, completionTokens int) {
	m.LLMTokens.Add(ctx, int64(promptTokens),
		metric.WithAttributes(attribute.String("provider", provider), attribute.String("direction", "in")))
	m.LLMTokens.Add(ctx, int64(completionTokens),
		metric.WithAttributes(attribute.String("provider", provider), attribute.String("direction", "out")))
}

// RecordLLMRetry is a convenience method that records one LLM Adapter retry
// attempt.
func (m *Metrics) RecordLLMRetry(ctx context.Context, provider, errorCode string) {
	m.LLMRetries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("error_code", errorCode),
		),
	)
}

// RecordPipelineError is a convenience method that records a pipeline error
// counter increment.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage, errorCode string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("error_code", errorCode),
		),
	)
}

// RecordRepairInvocation is a convenience method that records one unified-
// miner JSON repair-pass invocation and its outcome.
func (m *Metrics) RecordRepairInvocation(ctx context.Context, outcome string) {
	m.RepairInvocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
