// Package web_fetch exposes article extraction as a registry tool:
// plain HTTP fetch plus readability, no script execution.
package web_fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
)

const defaultMaxBytes = 2 << 20 // 2 MiB of HTML is plenty for an article

type Tool struct {
	client   *http.Client
	maxBytes int
}

func New(cfg config.WebFetchConfig) *Tool {
	max := cfg.MaxBytes
	if max <= 0 {
		max = defaultMaxBytes
	}
	return &Tool{
		client:   &http.Client{Timeout: 15 * time.Second},
		maxBytes: max,
	}
}

func (t *Tool) Entry() capability.Entry {
	return capability.Entry{
		Descriptor: capability.Descriptor{
			Name:        "web_fetch",
			Version:     "v1",
			Description: "Fetches a web page and returns its readable article text.",
			Category:    "search",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{"type": "string", "description": "page URL to fetch"},
				},
				"required": []interface{}{"url"},
			},
			Enabled: true,
		},
		Invoke: t.invoke,
	}
}

func (t *Tool) invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	rawURL, _ := args["url"].(string)
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	limited := io.LimitReader(resp.Body, int64(t.maxBytes))
	article, err := readability.FromReader(limited, parsed)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	return map[string]interface{}{
		"url":   parsed.String(),
		"title": article.Title,
		"text":  article.TextContent,
	}, nil
}
