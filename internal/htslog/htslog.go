// Package htslog configures structured logging for the server and attaches
// a request-scoped correlation ID to every log line a request produces.
package htslog

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey int

const entryKey contextKey = 0

// New returns a logrus.Logger configured with the server's log format and
// level. level accepts any value logrus.ParseLevel understands ("debug",
// "info", "warn", "error"); an unrecognized value falls back to "info".
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

// WithRequest returns a context carrying a *logrus.Entry tagged with a new
// request ID and the given fields. Use Entry to retrieve it further down the
// call stack.
func WithRequest(ctx context.Context, logger *logrus.Logger, fields logrus.Fields) (context.Context, *logrus.Entry) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["request_id"] = uuid.NewString()
	entry := logger.WithFields(fields)
	return context.WithValue(ctx, entryKey, entry), entry
}

// Entry returns the request-scoped log entry stored in ctx, or a bare entry
// derived from a fresh default logger if none was attached.
func Entry(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(entryKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(New("info"))
}
