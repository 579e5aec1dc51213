package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"msgbox/internal/pipeline"
)

// RequestIDHeader carries the per-request correlation id on every response
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests that matched no route, keeping the
// path label cardinality bounded.
const unmatchedRoute = "unmatched"

// observe assigns a request id, attaches a trace and emits the access log
// line and request metrics exactly once per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		trace := pipeline.NewTrace(requestID, start)

		w.Header().Set(RequestIDHeader, requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		r = r.WithContext(pipeline.WithTrace(r.Context(), trace))

		defer func() {
			rec := recover()

			status := ww.Status()
			if rec != nil {
				status = http.StatusInternalServerError
			} else if status == 0 {
				// Nothing written, net/http replies 200
				status = http.StatusOK
			}

			if trace.Finalize() {
				s.emit(r, trace, status, time.Since(start))
			}

			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// recoverer turns a handler panic into a JSON 500. The panic value and
// stack go on the trace so they land in the access log line instead of
// on stderr.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			if trace := pipeline.TraceFrom(r.Context()); trace != nil {
				trace.Fault = fmt.Errorf("panic: %v", rec)
				trace.Stack = string(debug.Stack())
			} else {
				s.Logger.Error("Recovered panic", "error", fmt.Sprint(rec), "stack", string(debug.Stack()))
			}

			if r.Header.Get("Connection") != "Upgrade" {
				s.respondJSON(w, http.StatusInternalServerError, detail("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) emit(r *http.Request, t *pipeline.Trace, status int, elapsed time.Duration) {
	latencyMs := float64(elapsed) / float64(time.Millisecond)
	isWebhook := r.URL.Path == WebhookPath

	s.Metrics.ObserveRequest(routeLabel(r), status, latencyMs)
	if isWebhook && t.Outcome != "" {
		s.Metrics.ObserveWebhook(string(t.Outcome))
	}

	attrs := []slog.Attr{
		slog.String("request_id", t.RequestID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Float64("latency_ms", math.Round(latencyMs*100)/100),
	}
	if isWebhook {
		var result any
		if t.Outcome != "" {
			result = string(t.Outcome)
		}
		attrs = append(attrs,
			slog.Any("message_id", valueOrNil(t.MessageID)),
			slog.Any("dup", valueOrNil(t.Duplicate)),
			slog.Any("result", result),
		)
	}
	if t.Fault != nil {
		attrs = append(attrs, slog.String("error", t.Fault.Error()))
	}
	if t.Stack != "" {
		attrs = append(attrs, slog.String("stack", t.Stack))
	}

	s.Logger.LogAttrs(r.Context(), severity(t.Outcome, status), "", attrs...)
}

func severity(outcome pipeline.Outcome, status int) slog.Level {
	switch {
	case outcome == pipeline.OutcomeInvalidSignature, status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// routeLabel returns the matched chi route pattern, e.g. "/messages"
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

func valueOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
