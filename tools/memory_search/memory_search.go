// Package memory_search exposes keyword search over a conversation's
// own history as a registry tool.
package memory_search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
	"github.com/mohammad-safakhou/converse/internal/memindex"
)

type Tool struct {
	index *memindex.Index
	topK  int
}

func New(cfg config.MemorySearchCfg, index *memindex.Index) *Tool {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Tool{index: index, topK: topK}
}

func (t *Tool) Entry() capability.Entry {
	return capability.Entry{
		Descriptor: capability.Descriptor{
			Name:        "memory_search",
			Version:     "v1",
			Description: "Searches earlier messages of this conversation for keywords (names, dates, topics discussed before).",
			Category:    "memory",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"conversation_id": map[string]interface{}{"type": "string"},
					"query":           map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"conversation_id", "query"},
			},
			Enabled: true,
		},
		Invoke: t.invoke,
	}
}

func (t *Tool) invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	conversationID, _ := args["conversation_id"].(string)
	query, _ := args["query"].(string)
	if conversationID == "" || query == "" {
		return nil, fmt.Errorf("conversation_id and query are required")
	}
	hits, err := t.index.Search(conversationID, query, t.topK)
	if err != nil {
		return nil, err
	}
	items := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		items = append(items, map[string]interface{}{
			"message_number": h.MessageNumber,
			"role":           h.Role,
			"text":           h.Text,
		})
	}
	return map[string]interface{}{"matches": items}, nil
}
