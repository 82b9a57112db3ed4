package capability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Invoker is a tool function resolved at startup. Arguments arrive as a
// decoded JSON object matching the descriptor's parameter schema.
type Invoker func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Descriptor represents registry metadata for one tool.
type Descriptor struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"` // e.g. search, memory, time
	Parameters  map[string]interface{} `json:"parameters"`
	Enabled     bool                   `json:"enabled"`
	Checksum    string                 `json:"checksum"`
	Signature   string                 `json:"signature"`
}

// Entry pairs a descriptor with its callable.
type Entry struct {
	Descriptor Descriptor
	Invoke     Invoker
}

var (
	// ErrToolUnknown indicates the name has no registry entry.
	ErrToolUnknown = fmt.Errorf("tool not registered")
	// ErrToolDisabled indicates the entry exists but is switched off.
	ErrToolDisabled = fmt.Errorf("tool disabled")
)

// Registry holds validated tool entries keyed by name. Lookups never use
// reflection; every invoker is a plain function bound at construction.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry validates descriptors and binds invokers. When a signing
// secret is configured each descriptor's signature is verified against
// its checksum before registration.
func NewRegistry(entries []Entry, signingSecret string) (*Registry, error) {
	reg := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Descriptor.Name == "" {
			return nil, fmt.Errorf("tool descriptor missing name")
		}
		if e.Invoke == nil {
			return nil, fmt.Errorf("tool %s has no invoker bound", e.Descriptor.Name)
		}
		if err := validateSignature(e.Descriptor, signingSecret); err != nil {
			return nil, fmt.Errorf("tool %s signature invalid: %w", e.Descriptor.Name, err)
		}
		if _, dup := reg.entries[e.Descriptor.Name]; dup {
			return nil, fmt.Errorf("tool %s registered twice", e.Descriptor.Name)
		}
		reg.entries[e.Descriptor.Name] = e
	}
	return reg, nil
}

// Lookup returns the entry for name regardless of enabled state.
func (r *Registry) Lookup(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	e, ok := r.entries[name]
	return e, ok
}

// Enabled returns descriptors of enabled tools sorted by name. Disabled
// tools are invisible to the selector.
func (r *Registry) Enabled() []Descriptor {
	if r == nil {
		return nil
	}
	var out []Descriptor
	for _, e := range r.entries {
		if e.Descriptor.Enabled {
			out = append(out, e.Descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories returns the distinct category names of enabled tools. The
// assessment prompt sends only these, not the full catalog.
func (r *Registry) Categories() []string {
	seen := map[string]bool{}
	for _, d := range r.Enabled() {
		if d.Category != "" && !seen[d.Category] {
			seen[d.Category] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Invoke runs a tool by name. Unknown or disabled names return sentinel
// errors the executor converts into errored tool results.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolUnknown, name)
	}
	if !e.Descriptor.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrToolDisabled, name)
	}
	return e.Invoke(ctx, args)
}

// ComputeChecksum returns a deterministic hash of the descriptor payload
// (excluding checksum and signature fields).
func ComputeChecksum(d Descriptor) (string, error) {
	payload := map[string]interface{}{
		"name":        d.Name,
		"version":     d.Version,
		"description": d.Description,
		"category":    d.Category,
		"parameters":  d.Parameters,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignDescriptor computes an HMAC signature using the signing secret.
func SignDescriptor(d Descriptor, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(d)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(d Descriptor, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignDescriptor(d, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(d.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
