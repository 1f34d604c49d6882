package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	api.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result map[string]string
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result["status"] != "ok" || result["service"] != "sasha-relay" {
		t.Errorf("unexpected health payload: %v", result)
	}
}

func TestStatusCountsSubscribers(t *testing.T) {
	api := newTestAPI(t)
	sub := api.Hub.Subscribe("s1")
	defer api.Hub.Unsubscribe(sub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	api.Status(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result map[string]any
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result["subscribers"].(float64) != 1 {
		t.Errorf("subscribers = %v, want 1", result["subscribers"])
	}
	if result["backend"] != "memory" {
		t.Errorf("backend = %v, want memory", result["backend"])
	}
	if result["terminals"].(float64) != 0 {
		t.Errorf("terminals = %v, want 0", result["terminals"])
	}
}
