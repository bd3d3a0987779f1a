package otel

import (
	"context"
	"log"
	"sync"
	"time"

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
	instrumentationName = "github.com/erain9/darkpool/pkg/otel"

	// ServiceOrderFlow covers order intake, delegation and cancellation.
	ServiceOrderFlow = "darkpool-orders"
	// ServiceSettlement covers matching and trade settlement.
	ServiceSettlement = "darkpool-settlement"
)

var (
	mu                 sync.RWMutex
	orderFlowTracer    trace.Tracer
	settlementTracer   trace.Tracer
	orderFlowProvider  *sdktrace.TracerProvider
	settlementProvider *sdktrace.TracerProvider
	meterProvider      *sdkmetric.MeterProvider
)

// Config holds the OpenTelemetry configuration
type Config struct {
	ServiceVersion   string
	Endpoint         string
	ConnectTimeout   time.Duration
	CollectorEnabled bool
}

// Init installs tracer and meter providers exporting over OTLP/gRPC. With
// the collector disabled it leaves the global no-op providers in place.
// The returned function flushes and shuts everything down.
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

	var cleanup []func(context.Context) error
	if cfg.CollectorEnabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

		orderTP, err := initTracerProvider(cfg, initResource(ServiceOrderFlow, cfg.ServiceVersion))
		if err != nil {
			log.Printf("Warning: failed to initialize %s tracer provider: %v", ServiceOrderFlow, err)
		} else {
			cleanup = append(cleanup, orderTP.Shutdown)
		}

		settlementTP, err := initTracerProvider(cfg, initResource(ServiceSettlement, cfg.ServiceVersion))
		if err != nil {
			log.Printf("Warning: failed to initialize %s tracer provider: %v", ServiceSettlement, err)
		} else {
			cleanup = append(cleanup, settlementTP.Shutdown)
			otel.SetTracerProvider(settlementTP)
		}

		mp, err := initMeterProvider(cfg, initResource(ServiceSettlement, cfg.ServiceVersion))
		if err != nil {
			log.Printf("Warning: failed to initialize meter provider: %v. Continuing without metrics.", err)
		} else {
			cleanup = append(cleanup, mp.Shutdown)
			otel.SetMeterProvider(mp)
		}

		mu.Lock()
		orderFlowProvider, settlementProvider, meterProvider = orderTP, settlementTP, mp
		if orderTP != nil {
			orderFlowTracer = orderTP.Tracer(ServiceOrderFlow)
		}
		if settlementTP != nil {
			settlementTracer = settlementTP.Tracer(ServiceSettlement)
		}
		mu.Unlock()
	}

	return func() {
		for _, fn := range cleanup {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
			if err := fn(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
			cancel()
		}
	}, nil
}

func initResource(serviceName, serviceVersion string) *sdkresource.Resource {
	extra, err := sdkresource.New(
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
		log.Printf("Failed to create resource: %v", err)
		return sdkresource.Default()
	}

	resource, err := sdkresource.Merge(sdkresource.Default(), extra)
	if err != nil {
		log.Printf("Failed to merge resources: %v", err)
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
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(5*time.Second))),
		sdkmetric.WithResource(resource),
	), nil
}

// GetTracerProvider returns the provider for serviceName, falling back to
// the global one.
func GetTracerProvider(serviceName string) trace.TracerProvider {
	mu.RLock()
	defer mu.RUnlock()
	switch serviceName {
	case ServiceOrderFlow:
		if orderFlowProvider != nil {
			return orderFlowProvider
		}
	case ServiceSettlement:
		if settlementProvider != nil {
			return settlementProvider
		}
	}
	return otel.GetTracerProvider()
}

// GetMeterProvider returns the installed meter provider or the global one.
func GetMeterProvider() metric.MeterProvider {
	mu.RLock()
	defer mu.RUnlock()
	if meterProvider != nil {
		return meterProvider
	}
	return otel.GetMeterProvider()
}

// ResetForTesting drops the configured tracers.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	orderFlowTracer = nil
	settlementTracer = nil
	orderFlowProvider = nil
	settlementProvider = nil
}

// InitForTesting routes every span to tracer.
func InitForTesting(tracer trace.Tracer) {
	mu.Lock()
	defer mu.Unlock()
	orderFlowTracer = tracer
	settlementTracer = tracer
}
