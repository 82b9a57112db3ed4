package server

import (
	"fmt"
	"log"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/capability"
	"github.com/mohammad-safakhou/converse/internal/memindex"
	"github.com/mohammad-safakhou/converse/tools/datetime"
	"github.com/mohammad-safakhou/converse/tools/memory_search"
	"github.com/mohammad-safakhou/converse/tools/weather"
	"github.com/mohammad-safakhou/converse/tools/web_fetch"
	"github.com/mohammad-safakhou/converse/tools/web_search"
)

// buildRegistry assembles the built-in tool set from config. Tools whose
// backends are not configured register as disabled so the selector never
// sees them but operators can tell absent from broken.
func buildRegistry(cfg *config.Config, index *memindex.Index, logger *log.Logger) (*capability.Registry, error) {
	var entries []capability.Entry

	if ws, err := web_search.New(cfg.Tools.WebSearch); err == nil {
		entries = append(entries, ws.Entry())
	} else {
		logger.Printf("web_search unavailable: %v", err)
	}
	if cfg.Tools.WebFetch.Enabled {
		entries = append(entries, web_fetch.New(cfg.Tools.WebFetch).Entry())
	}
	if cfg.Tools.Weather.Enabled {
		entries = append(entries, weather.New(cfg.Tools.Weather).Entry())
	}
	if cfg.Tools.MemorySearch.Enabled && index != nil {
		entries = append(entries, memory_search.New(cfg.Tools.MemorySearch, index).Entry())
	}
	if cfg.Tools.DateTime.Enabled {
		entries = append(entries, datetime.New().Entry())
	}

	disabled := make(map[string]bool, len(cfg.Tools.Disabled))
	for _, name := range cfg.Tools.Disabled {
		disabled[name] = true
	}
	for i := range entries {
		if disabled[entries[i].Descriptor.Name] {
			entries[i].Descriptor.Enabled = false
		}
		if cfg.Tools.SigningSecret != "" {
			checksum, err := capability.ComputeChecksum(entries[i].Descriptor)
			if err != nil {
				return nil, fmt.Errorf("checksum %s: %w", entries[i].Descriptor.Name, err)
			}
			sig, err := capability.SignDescriptor(entries[i].Descriptor, cfg.Tools.SigningSecret)
			if err != nil {
				return nil, fmt.Errorf("sign %s: %w", entries[i].Descriptor.Name, err)
			}
			entries[i].Descriptor.Checksum = checksum
			entries[i].Descriptor.Signature = sig
		}
	}
	return capability.NewRegistry(entries, cfg.Tools.SigningSecret)
}
