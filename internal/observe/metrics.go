// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscriptionDuration metric.Float64Histogram

	// EnhanceDuration tracks signal enhancement latency.
	EnhanceDuration metric.Float64Histogram

	// UtteranceLength tracks the audio duration of emitted utterances.
	UtteranceLength metric.Float64Histogram

	// --- Counters ---

	// UtterancesEmitted counts utterances delivered by the segmenter.
	UtterancesEmitted metric.Int64Counter

	// UtterancesDropped counts utterances lost to slow consumers.
	UtterancesDropped metric.Int64Counter

	// WakeDetections counts wake word detections. Use with attributes:
	//   attribute.String("word", ...), attribute.String("verified", ...)
	WakeDetections metric.Int64Counter

	// TranscriptionRequests counts provider transcription calls. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscriptionRequests metric.Int64Counter

	// TranscriptionFallbacks counts failovers from one provider to the next.
	// Use with attributes:
	//   attribute.String("failed", ...), attribute.String("next", ...)
	TranscriptionFallbacks metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// FramesDropped counts capture frames lost to backpressure.
	FramesDropped metric.Int64Counter

	// --- Gauges ---

	// HealthyProviders tracks the number of providers currently marked healthy.
	HealthyProviders metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open capture streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-pipeline latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("earshot.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription by provider."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnhanceDuration, err = m.Float64Histogram("earshot.enhance.duration",
		metric.WithDescription("Latency of signal enhancement."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceLength, err = m.Float64Histogram("earshot.utterance.length",
		metric.WithDescription("Audio duration of emitted utterances."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.UtterancesEmitted, err = m.Int64Counter("earshot.utterances.emitted",
		metric.WithDescription("Total utterances delivered by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("earshot.utterances.dropped",
		metric.WithDescription("Total utterances lost to slow consumers."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Total wake word detections by word and verification outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRequests, err = m.Int64Counter("earshot.transcription.requests",
		metric.WithDescription("Total transcription requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionFallbacks, err = m.Int64Counter("earshot.transcription.fallbacks",
		metric.WithDescription("Total provider failovers by failed and next provider."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total provider errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("earshot.frames.dropped",
		metric.WithDescription("Total capture frames lost to backpressure."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.HealthyProviders, err = m.Int64UpDownCounter("earshot.providers.healthy",
		metric.WithDescription("Number of providers currently marked healthy."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("earshot.streams.active",
		metric.WithDescription("Number of open capture streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordTranscription records one transcription request with its latency and
// outcome.
func (m *Metrics) RecordTranscription(ctx context.Context, provider, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.TranscriptionRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, seconds, attrs)
}

// RecordFallback records one failover from a failed provider to the next in line.
func (m *Metrics) RecordFallback(ctx context.Context, failed, next string) {
	m.TranscriptionFallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("failed", failed),
			attribute.String("next", next),
		),
	)
}

// RecordWakeDetection records one wake word detection.
func (m *Metrics) RecordWakeDetection(ctx context.Context, word string, verified bool) {
	v := "no"
	if verified {
		v = "yes"
	}
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("word", word),
			attribute.String("verified", v),
		),
	)
}

// RecordUtterance records one emitted utterance and its audio duration.
func (m *Metrics) RecordUtterance(ctx context.Context, seconds float64) {
	m.UtterancesEmitted.Add(ctx, 1)
	m.UtteranceLength.Record(ctx, seconds)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
