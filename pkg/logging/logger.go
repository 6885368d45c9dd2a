package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

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
	// PCodeKey is the key used to store the participant code in context
	PCodeKey contextKey = "pcode"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Format is "json" or "console" ("pretty" is accepted as console)
	Format string
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stdout,
	}
}

// Setup configures global logging based on the provided config
func Setup(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, "pretty") {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Component returns the global logger tagged with a component name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// WithPCode stores the participant code for FromContext
func WithPCode(ctx context.Context, pcode string) context.Context {
	return context.WithValue(ctx, PCodeKey, pcode)
}

// FromContext extracts a logger with request context
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.With()

	if pcode, ok := ctx.Value(PCodeKey).(string); ok {
		logCtx = logCtx.Str("pcode", pcode)
	}

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return logCtx.Str("request_id", requestID).Logger()
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for k, v := range md {
			if len(v) > 0 {
				logCtx = logCtx.Str(k, v[0])
			}
		}
	}

	return logCtx.Logger()
}

// requestLogger builds the per-call logger and tags ctx with the request id
func requestLogger(ctx context.Context, method string, stream bool) (context.Context, zerolog.Logger) {
	logCtx := log.With().Str("grpc.method", method)
	if stream {
		logCtx = logCtx.Bool("grpc.stream", true)
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if requestIDs := md.Get("x-request-id"); len(requestIDs) > 0 {
			logCtx = logCtx.Str("request_id", requestIDs[0])
			ctx = context.WithValue(ctx, RequestIDKey, requestIDs[0])
		}
	}
	return ctx, logCtx.Logger()
}

func logCompletion(logger zerolog.Logger, start time.Time, err error, msg string) {
	statusCode := codes.OK
	if err != nil {
		if st, ok := status.FromError(err); ok {
			statusCode = st.Code()
		} else {
			statusCode = codes.Unknown
		}
	}

	event := logger.Info()
	if statusCode != codes.OK {
		event = logger.Error().Err(err).Str("grpc.code", statusCode.String())
	}
	event.Dur("duration", time.Since(start)).
		Int("grpc.status", int(statusCode)).
		Msg(msg)
}

// UnaryServerInterceptor returns a gRPC interceptor for request logging
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		ctx, logger := requestLogger(ctx, info.FullMethod, false)
		logger.Debug().Msg("Request received")

		resp, err := handler(ctx, req)
		logCompletion(logger, start, err, "Request completed")
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC interceptor for streaming request logging
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		ctx, logger := requestLogger(stream.Context(), info.FullMethod, true)
		logger.Debug().Msg("Stream started")

		err := handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
		logCompletion(logger, start, err, "Stream completed")
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
