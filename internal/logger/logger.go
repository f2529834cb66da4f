package logger

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const userIDKey ctxKey = "log_user_id"

var base = logrus.New()

// Setup configures the process-wide logger. format is "json" or "text".
func Setup(level, format string) {
	SetupWithOutput(level, format, os.Stdout)
}

func SetupWithOutput(level, format string, out io.Writer) {
	base.SetOutput(out)
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)
	if strings.EqualFold(format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Log returns the base logger.
func Log() *logrus.Logger {
	return base
}

// WithUserID stores the caller's id so later log lines carry it.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// WithContext returns an entry enriched with the request id and user id found in ctx.
func WithContext(ctx context.Context) logrus.FieldLogger {
	entry := logrus.NewEntry(base)
	if ctx == nil {
		return entry
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		entry = entry.WithField("request_id", reqID)
	}
	if userID, ok := ctx.Value(userIDKey).(string); ok && userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	return entry
}

// AccessLog logs one line per request with status and duration.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		WithContext(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Info("request handled")
	})
}
