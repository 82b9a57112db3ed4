// Package web_search exposes web search as a registry tool, backed by
// Serper or Brave depending on which key is configured.
package web_search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is a pluggable search backend.
type Searcher interface {
	Search(ctx context.Context, q string, k int) ([]Result, error)
}

// Tool adapts a Searcher to the registry call contract.
type Tool struct {
	backend    Searcher
	maxResults int
}

// New picks a backend from config. Serper wins when both keys are set.
func New(cfg config.WebSearchConfig) (*Tool, error) {
	max := cfg.MaxResults
	if max <= 0 {
		max = 5
	}
	switch {
	case cfg.SerperAPIKey != "":
		return &Tool{backend: &serperSearch{apiKey: cfg.SerperAPIKey}, maxResults: max}, nil
	case cfg.BraveAPIKey != "":
		return &Tool{backend: &braveSearch{apiKey: cfg.BraveAPIKey}, maxResults: max}, nil
	default:
		return nil, fmt.Errorf("web_search requires a serper or brave api key")
	}
}

// Entry builds the registry entry. Enabled follows key presence; the
// registry owns further disabling.
func (t *Tool) Entry() capability.Entry {
	return capability.Entry{
		Descriptor: capability.Descriptor{
			Name:        "web_search",
			Version:     "v1",
			Description: "Searches the web and returns titles, URLs and snippets for a query.",
			Category:    "search",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "search query"},
				},
				"required": []interface{}{"query"},
			},
			Enabled: true,
		},
		Invoke: t.invoke,
	}
}

func (t *Tool) invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("missing query argument")
	}
	results, err := t.backend.Search(ctx, query, t.maxResults)
	if err != nil {
		return nil, err
	}
	items := make([]interface{}, 0, len(results))
	for _, r := range results {
		items = append(items, map[string]interface{}{"title": r.Title, "url": r.URL, "snippet": r.Snippet})
	}
	return map[string]interface{}{"results": items}, nil
}
