package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sentinel/internal/models"
)

func newTestIngest(queueSize int) (*IngestHandler, chan *models.LogEvent) {
	events := make(chan *models.LogEvent, queueSize)
	h := NewIngestHandler(IngestConfig{Events: events})
	return h, events
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestSingleEvent(t *testing.T) {
	h, events := newTestIngest(10)

	rec := postJSON(t, h, `{
		"id": "evt-1",
		"timestamp": "2026-08-30T12:00:00Z",
		"level": "error",
		"source": "API",
		"message": "  boom  "
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp IngestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Accepted != 1 || resp.Rejected != 0 {
		t.Fatalf("accepted=%d rejected=%d", resp.Accepted, resp.Rejected)
	}

	event := <-events
	if event.Level != models.LevelError {
		t.Errorf("level not normalized: %q", event.Level)
	}
	if event.Source != "api" {
		t.Errorf("source not lower-cased: %q", event.Source)
	}
	if event.Message != "boom" {
		t.Errorf("message not trimmed: %q", event.Message)
	}
}

func TestIngestBatch(t *testing.T) {
	h, events := newTestIngest(10)

	rec := postJSON(t, h, `{"events": [
		{"id": "evt-1", "timestamp": "2026-08-30T12:00:00Z", "level": "WARN", "source": "api", "message": "a"},
		{"id": "evt-2", "timestamp": "2026-08-30T12:00:01Z", "level": "ERROR", "source": "api", "message": "b"}
	]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	if len(events) != 2 {
		t.Errorf("queued events: got %d, want 2", len(events))
	}
}

func TestIngestPartialBatch(t *testing.T) {
	// One valid event, one with a bogus level: the valid one is queued
	// and the response reports the rejection per index.
	h, events := newTestIngest(10)

	rec := postJSON(t, h, `{"events": [
		{"id": "evt-1", "timestamp": "2026-08-30T12:00:00Z", "level": "ERROR", "source": "api", "message": "a"},
		{"id": "evt-2", "timestamp": "2026-08-30T12:00:01Z", "level": "LOUD", "source": "api", "message": "b"}
	]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var resp IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", resp.Accepted, resp.Rejected)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Index != 1 {
		t.Fatalf("errors: %+v", resp.Errors)
	}
	if len(events) != 1 {
		t.Errorf("queued events: got %d, want 1", len(events))
	}
}

func TestIngestInvalidJSON(t *testing.T) {
	h, _ := newTestIngest(10)

	rec := postJSON(t, h, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestIngestMissingTimestampRejected(t *testing.T) {
	h, _ := newTestIngest(10)

	rec := postJSON(t, h, `{"id": "evt-1", "level": "ERROR", "source": "api", "message": "a"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestIngestQueueFullShedsLoad(t *testing.T) {
	h, events := newTestIngest(1)

	rec := postJSON(t, h, `{"events": [
		{"id": "evt-1", "timestamp": "2026-08-30T12:00:00Z", "level": "ERROR", "source": "api", "message": "a"},
		{"id": "evt-2", "timestamp": "2026-08-30T12:00:01Z", "level": "ERROR", "source": "api", "message": "b"}
	]}`)

	var resp IngestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Accepted != 1 || resp.Rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", resp.Accepted, resp.Rejected)
	}
	if len(events) != 1 {
		t.Errorf("queued events: got %d, want 1", len(events))
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	h, _ := newTestIngest(10)

	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}
