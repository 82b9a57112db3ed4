package memindex

import (
	"fmt"
	"log"

	"github.com/blevesearch/bleve"
)

// Index is a full-text index over conversation messages, feeding the
// memory_search tool. It is an accelerator over the durable log, not a
// source of truth, and is scoped per conversation. Document fields are
// stored in bleve itself so a persistent index survives restarts.
type Index struct {
	bleve  bleve.Index
	logger *log.Logger
}

type doc struct {
	ConversationID string `json:"conversation_id"`
	MessageNumber  int    `json:"message_number"`
	Role           string `json:"role"`
	Text           string `json:"text"`
}

// Hit is one search result.
type Hit struct {
	MessageNumber int     `json:"message_number"`
	Role          string  `json:"role"`
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
}

// New opens a persistent index at dir, or an in-memory one when dir is
// empty.
func New(dir string, logger *log.Logger) (*Index, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMIDX] ", log.LstdFlags)
	}
	var (
		idx bleve.Index
		err error
	)
	if dir == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = bleve.Open(dir)
		if err != nil {
			idx, err = bleve.New(dir, bleve.NewIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open message index: %w", err)
	}
	return &Index{bleve: idx, logger: logger}, nil
}

func docID(conversationID string, messageNumber int) string {
	return fmt.Sprintf("%s:%d", conversationID, messageNumber)
}

// Add indexes one message. Failures are logged, not returned; the index
// is best effort and search quality degrades gracefully.
func (x *Index) Add(conversationID string, messageNumber int, role, text string) {
	d := doc{ConversationID: conversationID, MessageNumber: messageNumber, Role: role, Text: text}
	if err := x.bleve.Index(docID(conversationID, messageNumber), d); err != nil {
		x.logger.Printf("index message %s:%d: %v", conversationID, messageNumber, err)
	}
}

// Search runs a keyword query scoped to one conversation.
func (x *Index) Search(conversationID, q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	query := bleve.NewQueryStringQuery(q)
	// Over-fetch, then filter on the stored conversation_id field; the
	// scoping stays a post-filter to keep the mapping default.
	searchReq := bleve.NewSearchRequestOptions(query, k*5, 0, false)
	searchReq.Fields = []string{"conversation_id", "message_number", "role", "text"}
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search message index: %w", err)
	}
	var out []Hit
	for _, hit := range res.Hits {
		conv, _ := hit.Fields["conversation_id"].(string)
		if conv != conversationID {
			continue
		}
		num, _ := hit.Fields["message_number"].(float64)
		role, _ := hit.Fields["role"].(string)
		text, _ := hit.Fields["text"].(string)
		out = append(out, Hit{MessageNumber: int(num), Role: role, Text: text, Score: hit.Score})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Close releases the underlying index.
func (x *Index) Close() error {
	return x.bleve.Close()
}
