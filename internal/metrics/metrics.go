package metrics

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the desk's instruments. All Record* methods are no-ops on a
// nil receiver so components can run without metrics in tests.
type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	Transitions       metric.Int64Counter
	PostAttempts      metric.Int64Counter
	PostDuration      metric.Float64Histogram
	ListingDuration   metric.Float64Histogram
	DraftsSkipped     metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
}

// Setup wires an OpenTelemetry meter provider to a private Prometheus registry
// and returns the handler that serves it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m, handler, nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequests, err = meter.Int64Counter(
		"odk_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPDuration, err = meter.Float64Histogram(
		"odk_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.CacheHits, err = meter.Int64Counter(
		"odk_cache_hits_total",
		metric.WithDescription("Listing cache hits"),
	); err != nil {
		return nil, err
	}
	if m.CacheMisses, err = meter.Int64Counter(
		"odk_cache_misses_total",
		metric.WithDescription("Listing cache misses"),
	); err != nil {
		return nil, err
	}
	if m.Transitions, err = meter.Int64Counter(
		"odk_draft_transitions_total",
		metric.WithDescription("Draft lifecycle transitions by platform, transition and outcome"),
	); err != nil {
		return nil, err
	}
	if m.PostAttempts, err = meter.Int64Counter(
		"odk_post_attempts_total",
		metric.WithDescription("Posting CLI invocations by platform and outcome"),
	); err != nil {
		return nil, err
	}
	if m.PostDuration, err = meter.Float64Histogram(
		"odk_post_duration_seconds",
		metric.WithDescription("Posting CLI wall time in seconds"),
	); err != nil {
		return nil, err
	}
	if m.ListingDuration, err = meter.Float64Histogram(
		"odk_listing_duration_seconds",
		metric.WithDescription("Time to scan and extract every pending draft"),
	); err != nil {
		return nil, err
	}
	if m.DraftsSkipped, err = meter.Int64Counter(
		"odk_drafts_skipped_total",
		metric.WithDescription("Draft files skipped during listing (unreadable or empty)"),
	); err != nil {
		return nil, err
	}
	if m.ActiveConnections, err = meter.Int64UpDownCounter(
		"odk_stream_connections",
		metric.WithDescription("Open SSE and WebSocket subscribers"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// RecordTransition counts a lifecycle action. outcome is "ok" or an error code.
func (m *Metrics) RecordTransition(ctx context.Context, platform, transition, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("transition", transition),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordPost(ctx context.Context, platform, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcome),
	)
	m.PostAttempts.Add(ctx, 1, labels)
	m.PostDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordListing(ctx context.Context, duration time.Duration, skipped int) {
	if m == nil {
		return
	}
	m.ListingDuration.Record(ctx, duration.Seconds())
	if skipped > 0 {
		m.DraftsSkipped.Add(ctx, int64(skipped))
	}
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}
