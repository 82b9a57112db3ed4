// Package weather exposes a forecast lookup as a registry tool, backed
// by the Open-Meteo public API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
)

const defaultBaseURL = "https://api.open-meteo.com/v1/forecast"

type Tool struct {
	baseURL string
	client  *http.Client
}

func New(cfg config.WeatherConfig) *Tool {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Tool{baseURL: base, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *Tool) Entry() capability.Entry {
	return capability.Entry{
		Descriptor: capability.Descriptor{
			Name:        "weather",
			Version:     "v1",
			Description: "Returns daily temperature and precipitation for coordinates and an optional date (YYYY-MM-DD).",
			Category:    "weather",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"latitude":  map[string]interface{}{"type": "number"},
					"longitude": map[string]interface{}{"type": "number"},
					"date":      map[string]interface{}{"type": "string", "description": "YYYY-MM-DD, defaults to today"},
				},
				"required": []interface{}{"latitude", "longitude"},
			},
			Enabled: true,
		},
		Invoke: t.invoke,
	}
}

func (t *Tool) invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	lat, okLat := args["latitude"].(float64)
	lon, okLon := args["longitude"].(float64)
	if !okLat || !okLon {
		return nil, fmt.Errorf("latitude and longitude are required")
	}
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
	q.Set("timezone", "auto")
	if date, _ := args["date"].(string); date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
		}
		q.Set("start_date", date)
		q.Set("end_date", date)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather api returned status %d", resp.StatusCode)
	}
	var raw struct {
		Daily struct {
			Time             []string  `json:"time"`
			TemperatureMax   []float64 `json:"temperature_2m_max"`
			TemperatureMin   []float64 `json:"temperature_2m_min"`
			PrecipitationSum []float64 `json:"precipitation_sum"`
		} `json:"daily"`
		DailyUnits map[string]string `json:"daily_units"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	days := make([]interface{}, 0, len(raw.Daily.Time))
	for i, day := range raw.Daily.Time {
		entry := map[string]interface{}{"date": day}
		if i < len(raw.Daily.TemperatureMax) {
			entry["temperature_max"] = raw.Daily.TemperatureMax[i]
		}
		if i < len(raw.Daily.TemperatureMin) {
			entry["temperature_min"] = raw.Daily.TemperatureMin[i]
		}
		if i < len(raw.Daily.PrecipitationSum) {
			entry["precipitation"] = raw.Daily.PrecipitationSum[i]
		}
		days = append(days, entry)
	}
	return map[string]interface{}{
		"days":  days,
		"units": raw.DailyUnits,
	}, nil
}
