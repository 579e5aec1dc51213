package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"msgbox/internal/message"
	"msgbox/internal/pipeline"
	"msgbox/internal/security"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB

	DefaultListLimit = 50
	MaxListLimit     = 100
)

// ListResponse is the body of GET /messages
type ListResponse struct {
	Data   []message.Message `json:"data"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// HandleWebhook ingests one signed message delivery
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	trace := pipeline.TraceFrom(r.Context())

	// ContentLength can be -1 if not set; MaxBytesReader covers that case
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, detail("payload too large"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondJSON(w, http.StatusRequestEntityTooLarge, detail("payload too large"))
			return
		}
		s.respondJSON(w, http.StatusBadRequest, detail("failed to read payload"))
		return
	}

	res, err := s.Pipeline.Process(r.Context(), trace, body, r.Header.Get(security.SignatureHeader))
	if err != nil {
		s.fail(w, trace, err)
		return
	}

	switch res.Outcome {
	case pipeline.OutcomeInvalidSignature:
		s.respondJSON(w, http.StatusUnauthorized, detail("invalid signature"))
	case pipeline.OutcomeValidationError:
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": res.Violations})
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleListMessages returns one filtered page of stored messages
func (s *Server) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		var verr *message.ValidationError
		if errors.As(err, &verr) {
			s.respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": verr.Violations})
			return
		}
		s.fail(w, pipeline.TraceFrom(r.Context()), err)
		return
	}

	msgs, total, err := s.Store.List(r.Context(), q)
	if err != nil {
		s.fail(w, pipeline.TraceFrom(r.Context()), err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}

	s.respondJSON(w, http.StatusOK, ListResponse{
		Data:   msgs,
		Total:  total,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
}

// parseListQuery validates the GET /messages query string.
// All violations are collected before returning.
func parseListQuery(v url.Values) (message.Query, error) {
	q := message.Query{Limit: DefaultListLimit}
	verr := &message.ValidationError{}

	if v.Has("limit") {
		n, err := strconv.Atoi(v.Get("limit"))
		switch {
		case err != nil:
			verr.Add("query", "limit", "int_parsing", "limit must be an integer")
		case n < 1:
			verr.Add("query", "limit", "greater_than_equal", "limit must be greater than or equal to 1")
		case n > MaxListLimit:
			verr.Add("query", "limit", "less_than_equal", "limit must be less than or equal to "+strconv.Itoa(MaxListLimit))
		default:
			q.Limit = n
		}
	}

	if v.Has("offset") {
		n, err := strconv.Atoi(v.Get("offset"))
		switch {
		case err != nil:
			verr.Add("query", "offset", "int_parsing", "offset must be an integer")
		case n < 0:
			verr.Add("query", "offset", "greater_than_equal", "offset must be greater than or equal to 0")
		default:
			q.Offset = n
		}
	}

	q.From = message.NormalizeSender(v.Get("from"))

	if v.Has("since") {
		since, err := message.CanonicalTimestamp(v.Get("since"))
		if err != nil {
			verr.Add("query", "since", "value_error", "since must be an ISO-8601 UTC timestamp with Z suffix")
		}
		q.Since = since
	}

	q.Text = v.Get("q")

	if len(verr.Violations) > 0 {
		return q, verr
	}
	return q, nil
}

// HandleStats returns aggregate message counts
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		s.fail(w, pipeline.TraceFrom(r.Context()), err)
		return
	}
	if stats.MessagesPerSender == nil {
		stats.MessagesPerSender = []message.SenderCount{}
	}

	s.respondJSON(w, http.StatusOK, stats)
}

// HandleLive reports that the process is up
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

// HandleReady reports whether the service can accept webhooks
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if !s.secretConfigured {
		s.respondJSON(w, http.StatusServiceUnavailable, notReady("WEBHOOK_SECRET is not set"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ReadyTimeout)
	defer cancel()

	if err := s.Store.Ping(ctx); err != nil {
		if trace := pipeline.TraceFrom(r.Context()); trace != nil {
			trace.Fault = err
		}
		s.respondJSON(w, http.StatusServiceUnavailable, notReady("database not ready"))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail records err on the request trace and responds with a generic 500
func (s *Server) fail(w http.ResponseWriter, trace *pipeline.Trace, err error) {
	if trace != nil {
		trace.Fault = err
	} else {
		s.Logger.Error("Request failed", "error", err)
	}
	s.respondJSON(w, http.StatusInternalServerError, detail("internal server error"))
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	if err := writeJSON(w, statusCode, data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

func detail(msg string) map[string]string {
	return map[string]string{"detail": msg}
}

func notReady(reason string) map[string]string {
	return map[string]string{"status": "not_ready", "reason": reason}
}
