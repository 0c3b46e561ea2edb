package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// IngestHandler handles log event ingestion via HTTP
type IngestHandler struct {
	// Queue feeding the engine's ingest pool
	events chan<- *models.LogEvent

	// Max body size (default 10MB)
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	Events      chan<- *models.LogEvent
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &IngestHandler{
		events:      cfg.Events,
		maxBodySize: maxBodySize,
	}
}

// LogEventInput is the input format for log events (with string timestamp)
type LogEventInput struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"` // String for flexible parsing
	Level     string            `json:"level"`
	Source    string            `json:"source"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IngestRequest represents the incoming JSON payload (single or batch)
type IngestRequest struct {
	Event  *LogEventInput  `json:"event,omitempty"`
	Events []LogEventInput `json:"events,omitempty"`
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific event
type IngestError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	events, err := h.parseBody(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(events) == 0 {
		h.writeError(w, http.StatusBadRequest, "no events provided")
		return
	}

	response := h.processEvents(events)

	w.Header().Set("Content-Type", "application/json")
	if response.Rejected > 0 && response.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// parseBody parses the JSON body into a slice of LogEventInput
func (h *IngestHandler) parseBody(body []byte) ([]LogEventInput, error) {
	// Try parsing as IngestRequest first
	var req IngestRequest
	if err := json.Unmarshal(body, &req); err == nil {
		if len(req.Events) > 0 {
			return req.Events, nil
		}
		if req.Event != nil {
			return []LogEventInput{*req.Event}, nil
		}
	}

	// Try parsing as array of events
	var events []LogEventInput
	if err := json.Unmarshal(body, &events); err == nil && len(events) > 0 {
		return events, nil
	}

	// Try parsing as single event
	var single LogEventInput
	if err := json.Unmarshal(body, &single); err == nil && single.ID != "" {
		return []LogEventInput{single}, nil
	}

	return nil, fmt.Errorf("invalid JSON format: expected event object or array of events")
}

// processEvents validates, normalizes, and queues events
func (h *IngestHandler) processEvents(inputs []LogEventInput) IngestResponse {
	response := IngestResponse{
		Success: true,
		Errors:  make([]IngestError, 0),
	}

	for i, input := range inputs {
		event, err := h.convertInput(input)
		if err == nil {
			event.Normalize()
			err = event.Validate()
		}
		if err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:   i,
				EventID: input.ID,
				Error:   err.Error(),
			})
			response.Rejected++
			metrics.IngestEventsTotal.WithLabelValues("http", "rejected").Inc()
			metrics.IngestValidationErrors.WithLabelValues(err.Error()).Inc()
			continue
		}

		// Non-blocking send; shed load when the queue is full
		select {
		case h.events <- event:
			response.Accepted++
			metrics.IngestEventsTotal.WithLabelValues("http", "accepted").Inc()
		default:
			response.Errors = append(response.Errors, IngestError{
				Index:   i,
				EventID: event.ID,
				Error:   "internal queue full, try again later",
			})
			response.Rejected++
			metrics.IngestEventsTotal.WithLabelValues("http", "rejected").Inc()
		}
	}

	response.Success = response.Rejected == 0
	return response
}

// convertInput converts LogEventInput to LogEvent
func (h *IngestHandler) convertInput(input LogEventInput) (*models.LogEvent, error) {
	ts, err := models.ParseTimestamp(input.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}

	return &models.LogEvent{
		ID:        input.ID,
		Timestamp: ts,
		Level:     models.Level(input.Level),
		Source:    input.Source,
		Message:   input.Message,
		Metadata:  input.Metadata,
	}, nil
}

// writeError writes an error response
func (h *IngestHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
