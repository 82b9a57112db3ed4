package memory_search

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/memindex"
)

func TestInvokeReturnsConversationMatches(t *testing.T) {
	idx, err := memindex.New("", nil)
	if err != nil {
		t.Fatalf("memindex.New: %v", err)
	}
	defer idx.Close()
	idx.Add("conv-1", 1, "user", "my trip to Lisbon is on 2025-09-24")
	idx.Add("conv-2", 1, "user", "unrelated Lisbon chatter")

	tool := New(config.MemorySearchCfg{TopK: 3}, idx)
	out, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{
		"conversation_id": "conv-1",
		"query":           "Lisbon trip",
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	matches, ok := out["matches"].([]interface{})
	if !ok || len(matches) == 0 {
		t.Fatalf("expected matches, got %v", out)
	}
	first := matches[0].(map[string]interface{})
	if first["message_number"] != 1 || first["role"] != "user" {
		t.Fatalf("unexpected match: %v", first)
	}
}

func TestInvokeRequiresBothArguments(t *testing.T) {
	idx, err := memindex.New("", nil)
	if err != nil {
		t.Fatalf("memindex.New: %v", err)
	}
	defer idx.Close()
	tool := New(config.MemorySearchCfg{}, idx)

	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"query": "x"}); err == nil {
		t.Fatalf("expected error without conversation_id")
	}
	if _, err := tool.Entry().Invoke(context.Background(), map[string]interface{}{"conversation_id": "c"}); err == nil {
		t.Fatalf("expected error without query")
	}
}
