// Package observe provides observability primitives for Voxgate:
// OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// wires a Prometheus exporter so metrics are scraped via the standard
// /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxgate metrics.
const meterName = "github.com/voxgate/voxgate"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTLatency tracks time from forwarding audio to receiving the final
	// transcript of an utterance.
	STTLatency metric.Float64Histogram

	// LLMFirstChunk tracks time from starting a completion stream to the
	// first text chunk.
	LLMFirstChunk metric.Float64Histogram

	// TTSFirstAudio tracks time from submitting a sentence to receiving its
	// first synthesized audio chunk.
	TTSFirstAudio metric.Float64Histogram

	// --- Counters ---

	// Utterances counts committed user utterances per session.
	Utterances metric.Int64Counter

	// Replies counts agent replies by outcome. Use with attribute:
	//   attribute.String("outcome", "completed"|"interrupted"|"failed")
	Replies metric.Int64Counter

	// BargeIns counts user interruptions of an in-progress reply.
	BargeIns metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// AudioDropped counts audio chunks evicted from a full session queue.
	// Use with attribute: attribute.String("direction", "in"|"out")
	AudioDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTLatency, err = m.Float64Histogram("voxgate.stt.latency",
		metric.WithDescription("Latency from audio forwarding to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMFirstChunk, err = m.Float64Histogram("voxgate.llm.first_chunk",
		metric.WithDescription("Latency from stream start to first LLM text chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSFirstAudio, err = m.Float64Histogram("voxgate.tts.first_audio",
		metric.WithDescription("Latency from sentence submission to first synthesized audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("voxgate.utterances",
		metric.WithDescription("Total committed user utterances."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("voxgate.replies",
		metric.WithDescription("Total agent replies by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxgate.barge_ins",
		metric.WithDescription("Total user interruptions of in-progress replies."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxgate.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("voxgate.audio.dropped",
		metric.WithDescription("Total audio chunks evicted from full session queues."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxgate.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxgate.http.request.duration",
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

// RecordReply records a reply counter increment with the outcome attribute.
func (m *Metrics) RecordReply(ctx context.Context, outcome string) {
	m.Replies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAudioDrop records an evicted audio chunk for the given queue
// direction ("in" or "out").
func (m *Metrics) RecordAudioDrop(ctx context.Context, direction string) {
	m.AudioDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}
