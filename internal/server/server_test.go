package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"po-reconciliation-service/internal/reconciler"
	"po-reconciliation-service/pkg/errors"
	"po-reconciliation-service/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	service, err := reconciler.NewReconciliationService(nil, nil)
	if err != nil {
		t.Fatalf("NewReconciliationService() error = %v", err)
	}
	s, err := NewServer(service, nil, logger.NewWithWriter(&bytes.Buffer{}, logger.ErrorLevel, logger.TextFormat))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

type resultBody struct {
	RunID           string   `json:"run_id"`
	TotalPOItems    int      `json:"total_po_items"`
	MatchedCount    int      `json:"matched_count"`
	MismatchedCount int      `json:"mismatched_count"`
	UnmatchedItems  []string `json:"unmatched_items"`
	MinConfidence   float64  `json:"min_confidence"`
}

const reconcileBody = `{
  "po_items": [
    {"code": "GV 2020", "description": "gate valve", "quantity": 4, "unit": "EA"},
    {"code": "DP 1014 MM", "description": "", "provenance_tag": "ADNOC"}
  ],
  "candidates": [
    {"source": "SO", "code": "GV-2020", "description": "gate valve", "quantity": "4", "unit": "EA"},
    {"code": "PUMP 77", "description": "centrifugal pump"}
  ]
}`

func TestReconcile(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodPost, "/reconcile", reconcileBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body resultBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if body.RunID == "" {
		t.Error("expected a run id")
	}
	if body.TotalPOItems != 2 || body.MatchedCount != 1 || body.MismatchedCount != 1 {
		t.Errorf("unexpected counts %+v", body)
	}
	if len(body.UnmatchedItems) != 1 || body.UnmatchedItems[0] != "DP 1014 MM (ADNOC)" {
		t.Errorf("UnmatchedItems = %v", body.UnmatchedItems)
	}
	if body.MinConfidence != 0.6 {
		t.Errorf("MinConfidence = %v, want the service default", body.MinConfidence)
	}
}

func TestReconcileMinConfidenceOverride(t *testing.T) {
	s := newTestServer(t)
	body := strings.Replace(reconcileBody, `"po_items"`, `"min_confidence": 0.95, "po_items"`, 1)

	rec := do(t, s, http.MethodPost, "/reconcile", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result resultBody
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if result.MinConfidence != 0.95 {
		t.Errorf("MinConfidence = %v, want 0.95", result.MinConfidence)
	}

	// the override applies to one request only
	if got := s.service.GetMatchingConfig().MinConfidence; got != 0.6 {
		t.Errorf("service threshold changed to %v", got)
	}
}

func TestReconcileErrors(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		body     string
		status   int
		category string
	}{
		{
			name:     "malformed body",
			method:   http.MethodPost,
			body:     `{"po_items": [`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name:     "unknown field",
			method:   http.MethodPost,
			body:     `{"po": []}`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name:     "invalid min confidence",
			method:   http.MethodPost,
			body:     `{"po_items": [], "candidates": [], "min_confidence": 2}`,
			status:   http.StatusBadRequest,
			category: "configuration",
		},
		{
			name:     "PO item as candidate",
			method:   http.MethodPost,
			body:     `{"po_items": [], "candidates": [{"source": "PO", "code": "GV 2020"}]}`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name:     "null item",
			method:   http.MethodPost,
			body:     `{"po_items": [null], "candidates": []}`,
			status:   http.StatusBadRequest,
			category: "validation",
		},
		{
			name:   "wrong method",
			method: http.MethodGet,
			status: http.StatusMethodNotAllowed,
		},
	}

	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, "/reconcile", tt.body)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.category == "" {
				return
			}

			var body struct {
				Error struct {
					Category string `json:"category"`
					Message  string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid error JSON: %v", err)
			}
			if body.Error.Category != tt.category {
				t.Errorf("category = %q, want %q", body.Error.Category, tt.category)
			}
			if body.Error.Message == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"plain error becomes internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "unexpected_error"},
		{"wrapped validation error keeps its category", fmt.Errorf("decode: %w",
			errors.ValidationError(errors.CodeInvalidData, "po_items", nil, fmt.Errorf("bad item"))), http.StatusBadRequest, "invalid_data"},
		{"cancelled run", errors.InternalError(errors.CodeCancelled, "reconcile", fmt.Errorf("context canceled")), http.StatusServiceUnavailable, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			(&Server{}).writeError(rec, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid error JSON: %v", err)
			}
			if body.Error.Code != tt.code || body.Error.Message == "" {
				t.Errorf("error = %+v, want code %q", body.Error, tt.code)
			}
		})
	}
}

func TestEmptyRequestReconcilesNothing(t *testing.T) {
	rec := do(t, newTestServer(t), http.MethodPost, "/reconcile", `{"po_items": [], "candidates": []}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body resultBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response JSON: %v", err)
	}
	if body.TotalPOItems != 0 || body.UnmatchedItems == nil {
		t.Errorf("unexpected result %+v", body)
	}
}

func TestNewServerValidation(t *testing.T) {
	if _, err := NewServer(nil, nil, nil); err == nil {
		t.Error("expected error without a service")
	}

	service, _ := reconciler.NewReconciliationService(nil, nil)
	tests := []struct {
		name   string
		config *Config
	}{
		{"empty address", &Config{MaxBodyBytes: 1}},
		{"no body limit", &Config{Addr: ":0"}},
		{"negative timeout", &Config{Addr: ":0", MaxBodyBytes: 1, ReadTimeout: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewServer(service, tt.config, nil); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}
