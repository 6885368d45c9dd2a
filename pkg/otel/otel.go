package otel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceReplica = "market-replica"
	ServiceGateway = "order-gateway"
)

var (
	mu                    sync.RWMutex
	replicaTracer         trace.Tracer
	gatewayTracer         trace.Tracer
	replicaTracerProvider *sdktrace.TracerProvider
	gatewayTracerProvider *sdktrace.TracerProvider
	meterProvider         *sdkmetric.MeterProvider
)

// Config holds the OpenTelemetry configuration
type Config struct {
	ServiceVersion   string
	Endpoint         string
	ConnectTimeout   time.Duration
	ExportInterval   time.Duration
	CollectorEnabled bool
}

// Init initializes OpenTelemetry with the given configuration. With the
// collector disabled it installs nothing and the global no-op providers stay
// in place.
func Init(cfg Config) (func(), error) {
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "0.1.0"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ExportInterval == 0 {
		cfg.ExportInterval = 5 * time.Second
	}

	var cleanup []func()
	shutdown := func(name string, fn func(context.Context) error) func() {
		return func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
			defer cancel()
			if err := fn(ctx); err != nil {
				log.Error().Err(err).Str("provider", name).Msg("Error shutting down telemetry provider")
			}
		}
	}

	if !cfg.CollectorEnabled {
		return func() {}, nil
	}

	replicaResource := initResource(ServiceReplica, cfg.ServiceVersion)
	gatewayResource := initResource(ServiceGateway, cfg.ServiceVersion)

	mu.Lock()
	defer mu.Unlock()

	if tp, err := initTracerProvider(cfg, replicaResource); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize replica tracer provider")
	} else {
		replicaTracerProvider = tp
		replicaTracer = tp.Tracer(ServiceReplica)
		otel.SetTracerProvider(tp)
		cleanup = append(cleanup, shutdown(ServiceReplica, tp.Shutdown))
	}

	if tp, err := initTracerProvider(cfg, gatewayResource); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize gateway tracer provider")
	} else {
		gatewayTracerProvider = tp
		gatewayTracer = tp.Tracer(ServiceGateway)
		cleanup = append(cleanup, shutdown(ServiceGateway, tp.Shutdown))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if mp, err := initMeterProvider(cfg, replicaResource); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize meter provider, continuing without metrics")
	} else {
		meterProvider = mp
		otel.SetMeterProvider(mp)
		cleanup = append(cleanup, shutdown("meter", mp.Shutdown))
	}

	return func() {
		for _, fn := range cleanup {
			fn()
		}
	}, nil
}

func initResource(serviceName, serviceVersion string) *sdkresource.Resource {
	extraResources, err := sdkresource.New(
		context.Background(),
		sdkresource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
		sdkresource.WithOS(),
		sdkresource.WithProcess(),
		sdkresource.WithHost(),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create resource")
		return sdkresource.Default()
	}

	resource, err := sdkresource.Merge(sdkresource.Default(), extraResources)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to merge resources")
		return sdkresource.Default()
	}
	return resource
}

func initTracerProvider(cfg Config, resource *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
	), nil
}

func initMeterProvider(cfg Config, resource *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.ExportInterval))),
		sdkmetric.WithResource(resource),
	), nil
}

// ReplicaTracer returns the tracer for event application. It falls back to
// the global provider so callers never get nil.
func ReplicaTracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if replicaTracer != nil {
		return replicaTracer
	}
	return otel.GetTracerProvider().Tracer(ServiceReplica)
}

// GatewayTracer returns the tracer for outbound requests
func GatewayTracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	if gatewayTracer != nil {
		return gatewayTracer
	}
	return otel.GetTracerProvider().Tracer(ServiceGateway)
}

// GetTracerProvider returns the tracer provider for serviceName
func GetTracerProvider(serviceName string) trace.TracerProvider {
	mu.RLock()
	defer mu.RUnlock()
	switch serviceName {
	case ServiceReplica:
		if replicaTracerProvider != nil {
			return replicaTracerProvider
		}
	case ServiceGateway:
		if gatewayTracerProvider != nil {
			return gatewayTracerProvider
		}
	}
	return otel.GetTracerProvider()
}

// GetMeterProvider returns the configured meter provider, or the global one
func GetMeterProvider() metric.MeterProvider {
	mu.RLock()
	defer mu.RUnlock()
	if meterProvider != nil {
		return meterProvider
	}
	return otel.GetMeterProvider()
}

// InitForTesting installs tracer for both services
func InitForTesting(tracer trace.Tracer) {
	mu.Lock()
	defer mu.Unlock()
	replicaTracer = tracer
	gatewayTracer = tracer
}

// ResetForTesting clears what Init and InitForTesting installed
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	replicaTracer = nil
	gatewayTracer = nil
	replicaTracerProvider = nil
	gatewayTracerProvider = nil
	meterProvider = nil
}
