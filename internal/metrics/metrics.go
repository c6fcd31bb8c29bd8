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

// Metrics holds the instruments shared by the api and fetcher binaries.
// All record methods are safe to call on a nil *Metrics.
type Metrics struct {
	HTTPRequests metric.Int64Counter
	HTTPDuration metric.Float64Histogram
	FetchCycles  metric.Int64Counter
	PostsStored  metric.Int64Counter
	CacheHits    metric.Int64Counter
	CacheMisses  metric.Int64Counter
}

// Setup builds the instruments on a private registry so each call gets an
// independent /metrics handler.
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

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"posts_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"posts_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.FetchCycles, err = meter.Int64Counter(
		"posts_fetch_cycles_total",
		metric.WithDescription("Fetch cycles by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PostsStored, err = meter.Int64Counter(
		"posts_stored_total",
		metric.WithDescription("Upstream records processed by outcome (new, duplicate, failed)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheHits, err = meter.Int64Counter(
		"posts_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CacheMisses, err = meter.Int64Counter(
		"posts_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
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

// RecordCycle counts one fetch cycle. outcome is "ok", "lookup_failed",
// "fetch_failed" or "store_failed".
func (m *Metrics) RecordCycle(ctx context.Context, username, outcome string) {
	if m == nil {
		return
	}
	m.FetchCycles.Add(ctx, 1, metric.WithAttributes(
		attribute.String("username", username),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordStored(ctx context.Context, username string, inserted, duplicates, failed int) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{"new": inserted, "duplicate": duplicates, "failed": failed} {
		if n == 0 {
			continue
		}
		m.PostsStored.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("username", username),
			attribute.String("outcome", outcome),
		))
	}
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
