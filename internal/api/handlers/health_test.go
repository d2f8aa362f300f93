package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		statuses []string
		want     string
	}{
		{[]string{"ok", "ok"}, "ok"},
		{[]string{"ok", "degraded"}, "degraded"},
		{[]string{"degraded", "fail", "ok"}, "fail"},
		{nil, "ok"},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.statuses...); got != tt.want {
			t.Errorf("overallStatus(%v) = %s, ожидалось %s", tt.statuses, got, tt.want)
		}
	}
}

func TestPingChecker(t *testing.T) {
	ok := PingChecker{Name: "store", Ping: func(context.Context) error { return nil }}
	if status, _ := ok.CheckReady(); status != "ok" {
		t.Errorf("status = %s, ожидался ok", status)
	}

	degraded := PingChecker{
		Name:       "embedding",
		Ping:       func(context.Context) error { return errors.New("connection refused") },
		FailStatus: "degraded",
	}
	status, msg := degraded.CheckReady()
	if status != "degraded" || msg == "" {
		t.Errorf("CheckReady() = %s, %q", status, msg)
	}

	failing := PingChecker{Name: "store", Ping: func(context.Context) error { return errors.New("down") }}
	if status, _ := failing.CheckReady(); status != "fail" {
		t.Errorf("status = %s, ожидался fail", status)
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, ожидался 200", rec.Code)
	}
	var body healthLiveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Service != "ai-service" {
		t.Errorf("тело = %+v", body)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		store      ReadinessChecker
		embedding  ReadinessChecker
		journal    ReadinessChecker
		wantCode   int
		wantStatus string
		wantChecks int
	}{
		{"всё доступно", staticChecker{"ok", ""}, staticChecker{"ok", ""}, nil, http.StatusOK, "ok", 2},
		{"провайдер деградировал", staticChecker{"ok", ""}, staticChecker{"degraded", "x"}, staticChecker{"ok", ""}, http.StatusOK, "degraded", 3},
		{"хранилище недоступно", staticChecker{"fail", "x"}, staticChecker{"ok", ""}, nil, http.StatusServiceUnavailable, "fail", 2},
		{"не инициализирован", nil, staticChecker{"ok", ""}, nil, http.StatusServiceUnavailable, "fail", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.embedding, tt.journal)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.wantCode)
			}
			var body healthReadyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus || len(body.Checks) != tt.wantChecks {
				t.Errorf("status = %s, checks = %v", body.Status, body.Checks)
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil)
	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("статус %d, ожидался 200", rec.Code)
	}
}
