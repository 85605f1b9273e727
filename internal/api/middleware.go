package api

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-health/readmit/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DatasetIDHeader selects the dataset a request reads or builds.
	DatasetIDHeader = "X-Dataset-ID"

	// RequestIDHeader is echoed back, or generated when absent.
	RequestIDHeader = "X-Request-ID"

	// TraceIDHeader carries the span's trace ID, or the request ID when
	// tracing is disabled.
	TraceIDHeader = "X-Trace-ID"
)

var tracer = otel.Tracer("readmit-api")

type scopeKey struct{}

// requestScope holds the identifiers attached to every log line and span of
// one request. The outer middleware creates it; DatasetMiddleware fills in
// the dataset once the header has been checked.
type requestScope struct {
	requestID string
	traceID   string
	datasetID string
}

func scopeFrom(ctx context.Context) *requestScope {
	if s, ok := ctx.Value(scopeKey{}).(*requestScope); ok {
		return s
	}
	return nil
}

// withScope returns the request's scope, attaching a new one when none of
// the outer middleware ran.
func withScope(ctx context.Context) (*requestScope, context.Context) {
	if s := scopeFrom(ctx); s != nil {
		return s, ctx
	}
	s := &requestScope{}
	return s, context.WithValue(ctx, scopeKey{}, s)
}

// logAttrs lists the scope plus the run and route chi resolved for r.
// Safe to call after the handler returned.
func (s *requestScope) logAttrs(r *http.Request) []any {
	attrs := []any{
		"dataset_id", s.datasetID,
		"request_id", s.requestID,
		"trace_id", s.traceID,
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if runID := rctx.URLParam("id"); runID != "" {
			attrs = append(attrs, "run_id", runID)
		}
		if pattern := rctx.RoutePattern(); pattern != "" {
			attrs = append(attrs, "route", pattern)
		}
	}
	return attrs
}

// DatasetMiddleware requires the X-Dataset-ID header. The bus wildcard is
// not a dataset.
func DatasetMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		datasetID := r.Header.Get(DatasetIDHeader)
		if datasetID == "" || datasetID == domain.AllDatasets {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "X-Dataset-ID header is required",
			})
			return
		}

		scope, ctx := withScope(r.Context())
		scope.datasetID = datasetID
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("dataset.id", datasetID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TracingMiddleware opens the request span and fills in the request scope.
// The span is renamed to the matched route so run IDs stay out of span names.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		scope, ctx := withScope(ctx)
		scope.requestID, scope.traceID = requestID, requestID
		if sc := span.SpanContext(); sc.TraceID().IsValid() {
			scope.traceID = sc.TraceID().String()
		}

		w.Header().Set(RequestIDHeader, requestID)
		w.Header().Set(TraceIDHeader, scope.traceID)

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName(r.Method + " " + rctx.RoutePattern())
			span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
			if runID := rctx.URLParam("id"); runID != "" {
				span.SetAttributes(attribute.String("run.id", runID))
			}
		}
		span.SetAttributes(attribute.Int("http.status_code", rw.status))
		if rw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.status))
		}
	})
}

// LoggingMiddleware writes one line per request. Server errors log at error
// level and client errors at warn.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scope, ctx := withScope(r.Context())

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r.WithContext(ctx))

		level := slog.LevelInfo
		switch {
		case rw.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rw.status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		attrs := append([]any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}, scope.logAttrs(r)...)
		slog.Log(ctx, level, "http request", attrs...)
	})
}

var (
	corsAllowHeaders  = strings.Join([]string{"Content-Type", DatasetIDHeader, RequestIDHeader, TraceIDHeader, "Authorization"}, ", ")
	corsExposeHeaders = strings.Join([]string{DatasetIDHeader, RequestIDHeader, TraceIDHeader}, ", ")
)

// CORSMiddleware lets browser dashboards read the run tables. A request
// without an Origin gets the wildcard, which never carries credentials.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		} else {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecoverMiddleware turns a handler panic into a 500 that names the request,
// so a failed dashboard call can be matched to its log line.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ctx := withScope(r.Context())
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			attrs := append([]any{
				"error", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			}, scope.logAttrs(r)...)
			slog.ErrorContext(ctx, "panic recovered", attrs...)
			if rw.wroteHeader {
				return
			}
			writeJSON(rw, http.StatusInternalServerError, map[string]string{
				"error":     "internal server error",
				"requestId": scope.requestID,
			})
		}()
		next.ServeHTTP(rw, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// GetDatasetID returns the dataset DatasetMiddleware accepted, or "".
func GetDatasetID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.datasetID
	}
	return ""
}

// GetRequestID returns the request ID, or "" outside TracingMiddleware.
func GetRequestID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.requestID
	}
	return ""
}
