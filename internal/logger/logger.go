// Package logger provides structured logging for GroupStash. It uses
// Go's slog package with configurable levels and output formats.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
)

// New creates a new slog Logger with the specified level and format.
// Format "json" emits JSON records, anything else emits text.
func New(levelStr, format string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// AccessLog returns an iris middleware that tags each request with a
// generated request id and logs one line per completed request.
func AccessLog(log *slog.Logger) iris.Handler {
	return func(ctx iris.Context) {
		startTime := time.Now()
		requestID := uuid.NewString()
		ctx.Values().Set("request_id", requestID)

		ctx.Next()

		log.Info("Request completed",
			"request_id", requestID,
			"method", ctx.Method(),
			"path", ctx.Path(),
			"status", ctx.GetStatusCode(),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
	}
}
