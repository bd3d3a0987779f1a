package otel

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc/stats"
)

// NewGRPCStatsHandler creates a server stats handler for gRPC telemetry.
func NewGRPCStatsHandler() stats.Handler {
	return otelgrpc.NewServerHandler(
		otelgrpc.WithMeterProvider(GetMeterProvider()),
		otelgrpc.WithTracerProvider(GetTracerProvider(ServiceOrderFlow)),
	)
}

// NewGRPCClientStatsHandler is the client-side counterpart.
func NewGRPCClientStatsHandler() stats.Handler {
	return otelgrpc.NewClientHandler(
		otelgrpc.WithMeterProvider(GetMeterProvider()),
		otelgrpc.WithTracerProvider(GetTracerProvider(ServiceOrderFlow)),
	)
}
