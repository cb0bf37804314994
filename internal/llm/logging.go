package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware records one debug line per completed call and one
// warning per failed call.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return MiddlewareFunc{Complete: func(ctx context.Context, req Request, next CompleteFunc) (Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			var le Error
			if errors.As(err, &le) {
				fields = append(fields, zap.Int("status", le.StatusCode()), zap.Bool("retryable", le.Retryable()))
			}
			logger.Warn("llm call failed", append(fields, zap.Error(err))...)
			return resp, err
		}
		logger.Debug("llm call",
			append(fields,
				zap.String("finish", string(resp.Finish.Reason)),
				zap.Int("tool_calls", len(resp.ToolCalls())),
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
			)...)
		return resp, nil
	}}
}
