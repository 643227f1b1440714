// Package logging configures the zap logger for servers and provides the
// HTTP request middleware. The logger itself lives in pkg/logger so the
// client packages can log without importing server code.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fruitsalade/projectfiles/pkg/logger"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	requestIDKey   contextKey = "request_id"
	annotationsKey contextKey = "annotations"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

var globalLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init builds the global logger. An unknown level falls back to info.
// The console format is meant for the CLI and drops stack traces.
func Init(cfg Config) error {
	if err := globalLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		globalLevel.SetLevel(zapcore.InfoLevel)
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	zc.Level = globalLevel
	zc.Sampling = nil
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the global logger. Tests use it with an observer core.
func SetLogger(l *zap.Logger) {
	logger.Set(l)
}

// Sync flushes any buffered log entries.
func Sync() error {
	return logger.Sync()
}

// SetLevel changes the level of the running logger. Unknown levels are ignored.
func SetLevel(level string) {
	_ = globalLevel.UnmarshalText([]byte(level))
}

// L returns the global logger, a production logger until Init is called.
func L() *zap.Logger {
	return logger.L()
}

// WithContext returns the request logger stored by Middleware, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return L()
}

// WithRequestID tags the context's logger with a request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	l := WithContext(ctx).With(zap.String("request_id", requestID))
	ctx = context.WithValue(ctx, loggerKey, l)
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the request id stored by Middleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// annotations collects fields that handlers further down the chain want on
// the request's completion entry.
type annotations struct {
	mu     sync.Mutex
	fields []zap.Field
}

// Annotate adds fields to the completion entry of the current request.
// Outside Middleware it does nothing.
func Annotate(ctx context.Context, fields ...zap.Field) {
	a, ok := ctx.Value(annotationsKey).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.fields = append(a.fields, fields...)
	a.mu.Unlock()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// statusWriter records the status code and body size of a response.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.size += int64(n)
	return n, err
}

// Flush lets event streams push through the wrapper.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Middleware assigns each request an id, echoes it in X-Request-ID and logs
// one entry when the request completes. Server errors log at warn level.
// The entry carries the matched route pattern and any Annotate fields.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		notes := &annotations{}
		ctx := WithRequestID(r.Context(), requestID)
		ctx = context.WithValue(ctx, annotationsKey, notes)
		r = r.WithContext(ctx)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int64("size", sw.size),
			zap.Duration("duration", time.Since(start)),
		}
		if r.Pattern != "" {
			fields = append(fields, zap.String("route", r.Pattern))
		}
		notes.mu.Lock()
		fields = append(fields, notes.fields...)
		notes.mu.Unlock()

		l := WithContext(ctx)
		if sw.status >= http.StatusInternalServerError {
			l.Warn("request failed", fields...)
			return
		}
		l.Info("request completed", fields...)
	})
}

func String(key, val string) zap.Field { return zap.String(key, val) }
func Int(key string, val int) zap.Field { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field { return zap.Int64(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Err(err error) zap.Field { return zap.Error(err) }

// Collection tags an entry with a collection key such as "p1/files".
func Collection(key string) zap.Field {
	return zap.String("collection", key)
}

// Node tags an entry with a node id.
func Node(id string) zap.Field {
	return zap.String("node_id", id)
}
