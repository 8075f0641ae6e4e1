package buddy

import (
	"io"
	"log/slog"
	"os"
)

// Runtime debug logging for allocations - controlled by BUDDY_LOG_ALLOC env var.
var logAlloc = os.Getenv("BUDDY_LOG_ALLOC") != ""

type options struct {
	logger *slog.Logger
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger for allocator events. Successful allocations and
// frees are logged at debug level, rejected requests at debug level, and
// construction at info level.
//
// If nil is passed, logging is discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l == nil {
			l = discardLogger()
		}
		o.logger = l
	}
}

func defaultOptions() options {
	if logAlloc {
		return options{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))}
	}
	return options{logger: discardLogger()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
