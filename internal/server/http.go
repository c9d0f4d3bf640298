// Package server exposes the rule engine over HTTP: evaluation, rule
// administration, and an SSE change stream for connected front ends.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vmxmy/buttongate/internal/core"
	"github.com/vmxmy/buttongate/internal/repository"
	"github.com/vmxmy/buttongate/internal/service"
)

const (
	defaultStreamPollInterval = time.Second
	defaultMaxJSONBodyBytes   = 1 << 20
)

var errJSONBodyTooLarge = errors.New("json request body too large")

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	// StreamPollInterval is how often /v1/stream polls for new events.
	StreamPollInterval time.Duration
	// MaxJSONBodyBytes caps JSON request bodies.
	MaxJSONBodyBytes int64
	// MetricsHandler, when set, is mounted at GET /metrics.
	MetricsHandler http.Handler
	// OnStreamOpen and OnStreamClose observe SSE connection lifecycle.
	OnStreamOpen  func()
	OnStreamClose func()
}

type HTTPServer struct {
	service Service
	opts    Options
}

type evaluateJSONRequest struct {
	ButtonType   string         `json:"button_type,omitempty"`
	ButtonTypes  []string       `json:"button_types,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	RoleName     string         `json:"role_name,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

func (r evaluateJSONRequest) evaluationContext() core.EvaluationContext {
	return core.EvaluationContext{
		UserID:       strings.TrimSpace(r.UserID),
		DepartmentID: strings.TrimSpace(r.DepartmentID),
		RoleName:     strings.TrimSpace(r.RoleName),
		Attributes:   r.Context,
	}
}

type evaluateBatchJSONResponse struct {
	Results map[string]core.AvailabilityResult `json:"results"`
}

func NewHTTPHandler(svc Service) http.Handler {
	return NewHTTPHandlerWithOptions(svc, Options{})
}

func NewHTTPHandlerWithOptions(svc Service, opts Options) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	if opts.StreamPollInterval <= 0 {
		opts.StreamPollInterval = defaultStreamPollInterval
	}
	if opts.MaxJSONBodyBytes <= 0 {
		opts.MaxJSONBodyBytes = defaultMaxJSONBodyBytes
	}

	server := &HTTPServer{
		service: svc,
		opts:    opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("POST /v1/rules", server.handleUpsertRule)
	mux.HandleFunc("GET /v1/rules", server.handleListRules)
	mux.HandleFunc("GET /v1/rules/{id}", server.handleGetRule)
	mux.HandleFunc("DELETE /v1/rules/{id}", server.handleDeleteRule)
	mux.HandleFunc("GET /v1/stream", server.handleStream)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return mux
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	single := strings.TrimSpace(request.ButtonType)
	switch {
	case len(request.ButtonTypes) > 0 && single != "":
		writeJSONError(w, http.StatusBadRequest, "use either button_type or button_types")
		return
	case len(request.ButtonTypes) > 0:
		buttonTypes := make([]string, 0, len(request.ButtonTypes))
		for idx, buttonType := range request.ButtonTypes {
			buttonType = strings.TrimSpace(buttonType)
			if buttonType == "" {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("button_types[%d] is required", idx))
				return
			}
			buttonTypes = append(buttonTypes, buttonType)
		}
		results := s.service.EvaluateMany(r.Context(), buttonTypes, request.evaluationContext())
		writeJSON(w, http.StatusOK, evaluateBatchJSONResponse{Results: results})
	case single != "":
		result := s.service.Evaluate(r.Context(), single, request.evaluationContext())
		writeJSON(w, http.StatusOK, result)
	default:
		writeJSONError(w, http.StatusBadRequest, "button_type or button_types is required")
	}
}

func (s *HTTPServer) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var params service.UpsertRuleParams
	if err := s.decodeJSONBody(w, r, &params); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	// Same-tuple writes replace the stored rule, so a successful upsert is
	// always 200 rather than 201.
	stored, err := s.service.UpsertRule(r.Context(), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

func (s *HTTPServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.service.ListRules(r.Context(), r.URL.Query().Get("button_type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rules == nil {
		rules = []core.Rule{}
	}

	writeJSON(w, http.StatusOK, rules)
}

func (s *HTTPServer) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	rule, err := s.service.GetRule(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

func (s *HTTPServer) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := s.service.DeleteRule(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}
	buttonType := strings.TrimSpace(r.URL.Query().Get("button_type"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	currentEventID := lastEventID
	writeEvents := func(events []repository.RuleEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.Operation)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			flusher.Flush()
		}

		return nil
	}

	initialEvents, err := s.service.ListEventsSince(r.Context(), currentEventID, buttonType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.opts.OnStreamOpen != nil {
		s.opts.OnStreamOpen()
	}
	if s.opts.OnStreamClose != nil {
		defer s.opts.OnStreamClose()
	}

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.opts.StreamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := s.service.ListEventsSince(r.Context(), currentEventID, buttonType)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				writeSSEError(w, flusher, serviceErrorMessage(err))
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(operation string) string {
	switch strings.ToLower(strings.TrimSpace(operation)) {
	case repository.EventUpserted:
		return "upsert"
	case repository.EventDeleted:
		return "delete"
	default:
		return ""
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var rebuildErr *service.RebuildError
	switch {
	case errors.As(err, &validationErr):
		writeJSONError(w, http.StatusBadRequest, validationErr.Error())
	case errors.Is(err, service.ErrRuleNotFound):
		writeJSONError(w, http.StatusNotFound, "rule not found")
	case errors.As(err, &rebuildErr):
		writeJSONError(w, http.StatusServiceUnavailable, "rule stored but snapshot rebuild failed")
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func serviceErrorMessage(err error) string {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.Is(err, service.ErrRuleNotFound):
		return "rule not found"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	flusher.Flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	lines := strings.Split(string(payload), "\n")
	if len(lines) == 0 {
		return []string{""}
	}

	return lines
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxJSONBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
