// Package datetime exposes clock and calendar arithmetic as a registry
// tool. Current time for the user comes from the turn request; this
// tool covers conversions and offsets ("what date is next Tuesday").
package datetime

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/converse/internal/capability"
)

type Tool struct{}

func New() *Tool { return &Tool{} }

func (t *Tool) Entry() capability.Entry {
	return capability.Entry{
		Descriptor: capability.Descriptor{
			Name:        "datetime",
			Version:     "v1",
			Description: "Returns the current time in a timezone, or a date offset by days from a base date.",
			Category:    "time",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timezone":    map[string]interface{}{"type": "string", "description": "IANA zone, e.g. Europe/Berlin"},
					"base_date":   map[string]interface{}{"type": "string", "description": "YYYY-MM-DD, defaults to now"},
					"offset_days": map[string]interface{}{"type": "number"},
				},
			},
			Enabled: true,
		},
		Invoke: t.invoke,
	}
}

func (t *Tool) invoke(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	loc := time.UTC
	if tz, _ := args["timezone"].(string); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	base := time.Now().In(loc)
	if raw, _ := args["base_date"].(string); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid base_date %q: want YYYY-MM-DD", raw)
		}
		base = parsed
	}
	if offset, ok := args["offset_days"].(float64); ok {
		base = base.AddDate(0, 0, int(offset))
	}
	return map[string]interface{}{
		"datetime": base.Format(time.RFC3339),
		"date":     base.Format("2006-01-02"),
		"weekday":  base.Weekday().String(),
		"timezone": loc.String(),
	}, nil
}
