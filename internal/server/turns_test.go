package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/agent/telemetry"
)

func TestProcessTurnValidatesRequest(t *testing.T) {
	h := &TurnsHandler{}
	e := echo.New()

	cases := []struct {
		name string
		body string
	}{
		{"missing conversation id", `{"text": "hello"}`},
		{"missing text", `{"conversation_id": "c1"}`},
		{"blank text", `{"conversation_id": "c1", "text": "   "}`},
		{"invalid json", `{not json`},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/turns", strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := h.processTurn(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %v", tc.name, err)
		}
	}
}

func TestGetStatsReportsTurnAggregates(t *testing.T) {
	tele := telemetry.NewTelemetry(config.TelemetryConfig{})
	start := time.Now()
	tele.RecordTurn(telemetry.TurnEvent{
		ConversationID: "c1",
		StartTime:      start,
		EndTime:        start.Add(120 * time.Millisecond),
		State:          "DONE",
		Success:        true,
	})
	tele.RecordTurn(telemetry.TurnEvent{
		ConversationID: "c1",
		StartTime:      start,
		EndTime:        start.Add(80 * time.Millisecond),
		State:          "FALLBACK_DONE",
		FallbackKind:   "unknown",
		Success:        true,
	})

	h := &TurnsHandler{Telemetry: tele}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.getStats(c); err != nil {
		t.Fatalf("getStats: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got telemetry.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got.TotalTurns != 2 || got.SuccessfulTurns != 1 || got.FallbackTurns != 1 {
		t.Fatalf("unexpected aggregates: %+v", got)
	}
	if got.AverageTurnTime != 100*time.Millisecond {
		t.Fatalf("unexpected average turn time: %v", got.AverageTurnTime)
	}
}

func TestGetContextValidatesID(t *testing.T) {
	h := &TurnsHandler{}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("")

	err := h.getContext(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank id, got %v", err)
	}
}
