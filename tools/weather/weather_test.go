package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/converse/config"
)

func TestInvokeParsesDailyForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") != "2025-09-24" {
			t.Errorf("date not forwarded: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"daily": {
				"time": ["2025-09-24"],
				"temperature_2m_max": [20.1],
				"temperature_2m_min": [12.3],
				"precipitation_sum": [0.4]
			},
			"daily_units": {"temperature_2m_max": "°C"}
		}`))
	}))
	defer srv.Close()

	tool := New(config.WeatherConfig{BaseURL: srv.URL})
	out, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{
		"latitude":  38.72,
		"longitude": -9.14,
		"date":      "2025-09-24",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	days, ok := out["days"].([]interface{})
	if !ok || len(days) != 1 {
		t.Fatalf("expected one day, got %v", out["days"])
	}
	day := days[0].(map[string]interface{})
	if day["date"] != "2025-09-24" || day["temperature_max"] != 20.1 {
		t.Fatalf("unexpected day: %v", day)
	}
}

func TestInvokeRequiresCoordinates(t *testing.T) {
	tool := New(config.WeatherConfig{})
	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"latitude": 38.72}); err == nil {
		t.Fatalf("expected error without longitude")
	}
}

func TestInvokeRejectsMalformedDate(t *testing.T) {
	tool := New(config.WeatherConfig{})
	_, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{
		"latitude": 38.72, "longitude": -9.14, "date": "tomorrow",
	})
	if err == nil {
		t.Fatalf("expected error for malformed date")
	}
}

func TestInvokeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := New(config.WeatherConfig{BaseURL: srv.URL})
	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"latitude": 1.0, "longitude": 2.0}); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
