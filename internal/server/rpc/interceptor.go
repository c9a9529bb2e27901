package rpc

import (
	"context"
	"log/slog"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/graphmesh-go/internal/telemetry/metric"
)

// LoggingInterceptor logs RPCs and records their outcome and latency.
type LoggingInterceptor struct {
	logger  *slog.Logger
	metrics *metric.Registry
}

// NewLoggingInterceptor creates a new logging interceptor. metrics may be nil.
func NewLoggingInterceptor(logger *slog.Logger, metrics *metric.Registry) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger, metrics: metrics}
}

// WrapUnary implements connect.Interceptor.
func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()

		i.logger.Debug("rpc request",
			"method", req.Spec().Procedure,
			"peer", req.Peer().Addr)

		resp, err := next(ctx, req)

		duration := time.Since(start)
		i.metrics.RecordRequest(req.Spec().Procedure, codeLabel(err), duration)

		if err != nil {
			level := slog.LevelWarn
			if connect.CodeOf(err) == connect.CodeInternal {
				level = slog.LevelError
			}
			i.logger.Log(ctx, level, "rpc error",
				"method", req.Spec().Procedure,
				"duration_ms", duration.Milliseconds(),
				"error", err)
		} else {
			i.logger.Debug("rpc response",
				"method", req.Spec().Procedure,
				"duration_ms", duration.Milliseconds())
		}

		return resp, err
	}
}

// WrapStreamingClient implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

// WrapStreamingHandler implements connect.Interceptor.
func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
