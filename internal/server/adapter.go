package server

import (
	"context"

	core "github.com/mohammad-safakhou/converse/internal/agent/core"
	"github.com/mohammad-safakhou/converse/internal/memindex"
	"github.com/mohammad-safakhou/converse/internal/store"
)

// storeAdapter narrows *store.Store to what the controller needs and
// feeds the memory index as a side effect of successful appends. Index
// writes are best effort and never fail the turn.
type storeAdapter struct {
	st    *store.Store
	index *memindex.Index
}

func (a *storeAdapter) AppendTurn(ctx context.Context, conversationID, owner, userText, assistantText string) (int, int, error) {
	userNum, asstNum, err := a.st.AppendTurn(ctx, conversationID, owner, userText, assistantText)
	if err != nil {
		return 0, 0, err
	}
	if a.index != nil {
		a.index.Add(conversationID, userNum, "user", userText)
		a.index.Add(conversationID, asstNum, "assistant", assistantText)
	}
	return userNum, asstNum, nil
}

func (a *storeAdapter) ReadTail(ctx context.Context, conversationID string, afterNumber int) ([]core.StoredMessage, error) {
	msgs, err := a.st.ReadTail(ctx, conversationID, afterNumber)
	if err != nil {
		return nil, err
	}
	out := make([]core.StoredMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.StoredMessage{MessageNumber: m.MessageNumber, Role: m.Role, Text: m.Text})
	}
	return out, nil
}

func (a *storeAdapter) ReadCompact(ctx context.Context, conversationID string) (string, int, error) {
	return a.st.ReadCompact(ctx, conversationID)
}
