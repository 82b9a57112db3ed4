package datetime

import (
	"context"
	"testing"
)

func TestInvokeOffsetFromBaseDate(t *testing.T) {
	tool := New()
	out, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{
		"base_date":   "2025-09-24",
		"offset_days": float64(7),
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out["date"] != "2025-10-01" {
		t.Fatalf("expected 2025-10-01, got %v", out["date"])
	}
	if out["weekday"] != "Wednesday" {
		t.Fatalf("expected Wednesday, got %v", out["weekday"])
	}
}

func TestInvokeRejectsBadInput(t *testing.T) {
	tool := New()
	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"timezone": "Not/AZone"}); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"base_date": "24-09-2025"}); err == nil {
		t.Fatalf("expected error for malformed date")
	}
}
