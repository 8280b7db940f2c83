package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/carving_editor/internal/config"
)

const namespace = "carving_editor"

type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promExporter   *prometheus.Exporter
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequestCounter  *promreg.CounterVec
	httpRequestLatency  *promreg.HistogramVec
	attemptCounter      *promreg.CounterVec
	attemptLatency      *promreg.HistogramVec
	retryCounter        *promreg.CounterVec
	fallbackCounter     *promreg.CounterVec
	admissionRejections promreg.Counter
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("carving-editor"),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		opts := []otlptracegrpc.Option{}
		switch {
		case strings.HasPrefix(endpoint, "http://"):
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		registry := promreg.NewRegistry()
		if err := provider.setupMetrics(registry, res); err != nil {
			return nil, err
		}
	}

	return provider, nil
}

func (p *Provider) setupMetrics(registry *promreg.Registry, res *resource.Resource) error {
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return err
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(promExporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.promExporter = promExporter
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	// Provider calls can take minutes, so the upper buckets are wide.
	latencyBuckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

	p.httpRequestCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	p.httpRequestLatency = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   latencyBuckets,
		},
		[]string{"method", "route", "status"},
	)
	p.attemptCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider edit attempts by outcome.",
		},
		[]string{"provider", "outcome"},
	)
	p.attemptLatency = promreg.NewHistogramVec(
		promreg.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Duration of single provider edit attempts.",
			Buckets:   latencyBuckets,
		},
		[]string{"provider", "outcome"},
	)
	p.retryCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Quota retries scheduled per provider.",
		},
		[]string{"provider"},
	)
	p.fallbackCounter = promreg.NewCounterVec(
		promreg.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Fallback attempts after a quota failure.",
		},
		[]string{"from", "to"},
	)
	p.admissionRejections = promreg.NewCounter(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "admission_rejections_total",
		Help:      "Edit requests rejected because another edit was in flight.",
	})

	for _, c := range []promreg.Collector{
		p.httpRequestCounter,
		p.httpRequestLatency,
		p.attemptCounter,
		p.attemptLatency,
		p.retryCounter,
		p.fallbackCounter,
		p.admissionRejections,
	} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}

func (p *Provider) RecordHTTPRequest(_ context.Context, method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}

	statusLabel := strconv.Itoa(status)

	if p.httpRequestCounter != nil {
		p.httpRequestCounter.WithLabelValues(method, route, statusLabel).Inc()
	}

	if p.httpRequestLatency != nil {
		p.httpRequestLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
	}
}

// RecordAttempt tracks one provider call. outcome is "success" or an error kind.
func (p *Provider) RecordAttempt(provider, outcome string, duration time.Duration) {
	if p == nil || p.attemptCounter == nil {
		return
	}
	p.attemptCounter.WithLabelValues(provider, outcome).Inc()
	p.attemptLatency.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

func (p *Provider) RecordRetry(provider string) {
	if p == nil || p.retryCounter == nil {
		return
	}
	p.retryCounter.WithLabelValues(provider).Inc()
}

func (p *Provider) RecordFallback(from, to string) {
	if p == nil || p.fallbackCounter == nil {
		return
	}
	p.fallbackCounter.WithLabelValues(from, to).Inc()
}

func (p *Provider) RecordAdmissionRejected() {
	if p == nil || p.admissionRejections == nil {
		return
	}
	p.admissionRejections.Inc()
}
