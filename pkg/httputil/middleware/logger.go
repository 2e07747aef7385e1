package middleware

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the status code
// and the number of body bytes written.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
	Bytes      int
	wrote      bool
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	if !rr.wrote {
		rr.StatusCode = statusCode
		rr.wrote = true
	}
	rr.ResponseWriter.WriteHeader(statusCode)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.wrote = true
	n, err := rr.ResponseWriter.Write(b)
	rr.Bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter { return rr.ResponseWriter }

// GetLogEntryMetadata returns the metadata map the logger middleware placed in
// ctx. Inner handlers may add entries; they are logged with the response.
func GetLogEntryMetadata(ctx context.Context) map[string]any {
	if metadata, ok := ctx.Value(httputil.LogEntryCtxKey).(map[string]any); ok {
		return metadata
	}
	return nil
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	// Logger defaults to zap.L().
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("req_id", reqID),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
		zap.Int("bytes", rec.Bytes),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Duration("latency", latency),
	}
}

// statusLevel logs server errors at error level and client errors at warn.
func statusLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// LoggerWithOptions logs one entry per response.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	var o LoggerOptions
	if options != nil {
		o = *options
	}
	if o.Format == nil {
		o.Format = defaultFormat
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetLogEntryMetadata(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}
			logger := o.Logger
			if logger == nil {
				logger = zap.L()
			}

			start := time.Now()
			reqID := httputil.RequestID(r)
			if reqID == "" {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			metadata := make(map[string]any)
			r = r.WithContext(context.WithValue(r.Context(), httputil.LogEntryCtxKey, metadata))

			next.ServeHTTP(rec, r)

			fields := o.Format(reqID, rec, r, time.Since(start))
			for _, k := range slices.Sorted(maps.Keys(metadata)) {
				fields = append(fields, zap.Any(k, metadata[k]))
			}
			logger.Log(statusLevel(rec.StatusCode), "response", fields...)
		})
	}
}
