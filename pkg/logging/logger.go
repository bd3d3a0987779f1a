package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"

	// RequestIDHeader is the gRPC metadata / HTTP header carrying the id.
	RequestIDHeader = "x-request-id"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Pretty selects the human readable console writer instead of JSON
	Pretty bool
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: false,
		Output: os.Stdout,
	}
}

// Setup configures the global logger.
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Str("service", "darkpool").Logger()
}

// WithRequestID stores id in ctx, generating one when id is empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id carried by ctx, if any.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok && id != ""
}

// FromContext returns the global logger enriched with the request id.
func FromContext(ctx context.Context) zerolog.Logger {
	if requestID, ok := RequestID(ctx); ok {
		return log.With().Str("request_id", requestID).Logger()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDHeader); len(ids) > 0 {
			return log.With().Str("request_id", ids[0]).Logger()
		}
	}
	return log.Logger
}

// requestContext takes the request id from incoming metadata or mints one.
func requestContext(ctx context.Context) (context.Context, string) {
	var id string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDHeader); len(ids) > 0 {
			id = ids[0]
		}
	}
	ctx = WithRequestID(ctx, id)
	id, _ = RequestID(ctx)
	return ctx, id
}

func completion(logger zerolog.Logger, err error, start time.Time, msg string) {
	code := status.Code(err)
	event := logger.Info()
	if code != codes.OK {
		event = logger.Warn().Err(err).Str("grpc.code", code.String())
		if code == codes.Internal || code == codes.Unknown {
			event = logger.Error().Err(err).Str("grpc.code", code.String())
		}
	}
	event.Dur("duration", time.Since(start)).
		Int("grpc.status", int(code)).
		Msg(msg)
}

// UnaryServerInterceptor logs every unary call with its duration and status.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		ctx, requestID := requestContext(ctx)
		logger := log.With().
			Str("grpc.method", info.FullMethod).
			Str("request_id", requestID).
			Logger()

		logger.Debug().Msg("Request received")
		resp, err := handler(ctx, req)
		completion(logger, err, start, "Request completed")
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		ctx, requestID := requestContext(stream.Context())
		logger := log.With().
			Str("grpc.method", info.FullMethod).
			Bool("grpc.stream", true).
			Str("request_id", requestID).
			Logger()

		logger.Debug().Msg("Stream started")
		err := handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
		completion(logger, err, start, "Stream completed")
		return err
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapper's modified context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
