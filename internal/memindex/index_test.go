package memindex

import (
	"path/filepath"
	"testing"
)

func TestSearchScopedToConversation(t *testing.T) {
	idx, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	idx.Add("conv-1", 1, "user", "my trip to Lisbon is on 2025-09-24")
	idx.Add("conv-1", 2, "assistant", "noted, Lisbon on 2025-09-24")
	idx.Add("conv-2", 1, "user", "my trip to Paris is next week")

	hits, err := idx.Search("conv-1", "trip Lisbon", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("expected hits for conv-1")
	}
	for _, h := range hits {
		if h.Text == "my trip to Paris is next week" {
			t.Fatalf("hit leaked from another conversation")
		}
	}
}

func TestPersistentIndexSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "msgidx")

	idx, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	idx.Add("conv-1", 1, "user", "my flight to Lisbon leaves on 2025-09-24")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	hits, err := reopened.Search("conv-1", "flight Lisbon", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after reopen, got %d", len(hits))
	}
	if hits[0].MessageNumber != 1 || hits[0].Role != "user" {
		t.Fatalf("unexpected hit fields: %+v", hits[0])
	}
	if hits[0].Text != "my flight to Lisbon leaves on 2025-09-24" {
		t.Fatalf("unexpected hit text: %q", hits[0].Text)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Search("conv-1", "anything", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %d", len(hits))
	}
}
