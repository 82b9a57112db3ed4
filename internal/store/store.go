package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store wraps the Postgres-backed conversation log.
type Store struct {
	DB *sql.DB
}

// Message roles persisted per spoken turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CurrentSchemaVersion is stamped onto new conversation rows.
const CurrentSchemaVersion = 1

var (
	// ErrConversationNotFound indicates the conversation id has no row yet.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrCompactionConflict indicates another compaction advanced the
	// watermark first; the caller should drop its window and re-check.
	ErrCompactionConflict = errors.New("compaction watermark moved")
)

// Message is one spoken turn. Rows are append-only and never mutated.
type Message struct {
	ConversationID string
	MessageNumber  int
	Role           string
	Text           string
	CreatedAt      time.Time
}

// Conversation is the per-conversation metadata record. CompactedUpTo is
// the number of the last message folded into CompactSummary; it only
// moves forward.
type Conversation struct {
	ID             string
	Owner          string
	MessageCount   int
	SchemaVersion  int
	CompactedUpTo  int
	CompactSummary sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CompactRecord is the tooling-convenience history of past compaction
// windows. Windows are contiguous: each starts right after the previous
// one ends.
type CompactRecord struct {
	ConversationID string
	WindowStart    int
	WindowEnd      int
	SummaryText    string
	CreatedAt      time.Time
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// AppendTurn writes one user message and one assistant message as a
// single transaction. The pair is assigned the next two contiguous
// message numbers; a failure anywhere leaves the conversation untouched.
func (s *Store) AppendTurn(ctx context.Context, conversationID, owner, userText, assistantText string) (userNum, assistantNum int, err error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin append turn: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO conversations (id, owner, message_count, schema_version, compacted_up_to)
VALUES ($1,$2,0,$3,0)
ON CONFLICT (id) DO NOTHING`, conversationID, owner, CurrentSchemaVersion)
	if err != nil {
		return 0, 0, fmt.Errorf("ensure conversation: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, `SELECT message_count FROM conversations WHERE id=$1 FOR UPDATE`, conversationID).Scan(&count)
	if err != nil {
		return 0, 0, fmt.Errorf("lock conversation: %w", err)
	}

	userNum = count + 1
	assistantNum = count + 2
	_, err = tx.ExecContext(ctx, `
INSERT INTO messages (conversation_id, message_number, role, text) VALUES
($1,$2,$3,$4),
($1,$5,$6,$7)`, conversationID, userNum, RoleUser, userText, assistantNum, RoleAssistant, assistantText)
	if err != nil {
		return 0, 0, fmt.Errorf("insert turn messages: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE conversations SET message_count=$2, updated_at=now() WHERE id=$1`, conversationID, assistantNum)
	if err != nil {
		return 0, 0, fmt.Errorf("advance message count: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit append turn: %w", err)
	}
	return userNum, assistantNum, nil
}

// ReadTail returns all messages with number > afterNumber, in order.
func (s *Store) ReadTail(ctx context.Context, conversationID string, afterNumber int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT conversation_id, message_number, role, text, created_at
FROM messages
WHERE conversation_id=$1 AND message_number > $2
ORDER BY message_number`, conversationID, afterNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ConversationID, &m.MessageNumber, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReadCompact returns the merged compact summary and the watermark of the
// last message it covers. A conversation with no row yet reads as empty.
func (s *Store) ReadCompact(ctx context.Context, conversationID string) (summary string, compactedUpTo int, err error) {
	var ns sql.NullString
	err = s.DB.QueryRowContext(ctx, `SELECT compact_summary, compacted_up_to FROM conversations WHERE id=$1`, conversationID).Scan(&ns, &compactedUpTo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	if ns.Valid {
		summary = ns.String
	}
	return summary, compactedUpTo, nil
}

// GetConversation loads the metadata record.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx, `
SELECT id, owner, message_count, schema_version, compacted_up_to, compact_summary, created_at, updated_at
FROM conversations WHERE id=$1`, conversationID).
		Scan(&c.ID, &c.Owner, &c.MessageCount, &c.SchemaVersion, &c.CompactedUpTo, &c.CompactSummary, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// ListNeedingCompaction returns ids whose uncompacted tail has reached
// the threshold. Used by the periodic sweeper to catch conversations
// whose inline trigger was lost.
func (s *Store) ListNeedingCompaction(ctx context.Context, threshold int, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM conversations
WHERE message_count - compacted_up_to >= $1
ORDER BY updated_at
LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommitCompaction durably records a summarized window. The guarded
// UPDATE is the commit point: it only succeeds when the watermark still
// sits exactly at windowStart-1, which makes overlapping or repeated
// windows impossible regardless of how many compactors race.
func (s *Store) CommitCompaction(ctx context.Context, conversationID string, windowStart, windowEnd int, mergedSummary, windowSummary string) (err error) {
	if windowEnd < windowStart {
		return fmt.Errorf("invalid window [%d,%d]", windowStart, windowEnd)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compaction commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
UPDATE conversations
SET compact_summary=$3, compacted_up_to=$4, updated_at=now()
WHERE id=$1 AND compacted_up_to=$2`, conversationID, windowStart-1, mergedSummary, windowEnd)
	if err != nil {
		return fmt.Errorf("advance compaction watermark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compaction rows affected: %w", err)
	}
	if affected == 0 {
		err = ErrCompactionConflict
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO compact_records (conversation_id, window_start, window_end, summary_text)
VALUES ($1,$2,$3,$4)`, conversationID, windowStart, windowEnd, windowSummary)
	if err != nil {
		return fmt.Errorf("insert compact record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit compaction: %w", err)
	}
	return nil
}

// ListCompactRecords returns the window history for a conversation in
// window order.
func (s *Store) ListCompactRecords(ctx context.Context, conversationID string) ([]CompactRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT conversation_id, window_start, window_end, summary_text, created_at
FROM compact_records
WHERE conversation_id=$1
ORDER BY window_start`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CompactRecord
	for rows.Next() {
		var r CompactRecord
		if err := rows.Scan(&r.ConversationID, &r.WindowStart, &r.WindowEnd, &r.SummaryText, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
