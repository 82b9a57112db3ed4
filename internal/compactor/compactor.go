package compactor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/agent/core"
	"github.com/mohammad-safakhou/converse/internal/agent/telemetry"
	"github.com/mohammad-safakhou/converse/internal/store"
)

// storeAPI is the slice of the store the compactor uses.
type storeAPI interface {
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	ReadTail(ctx context.Context, conversationID string, afterNumber int) ([]store.Message, error)
	CommitCompaction(ctx context.Context, conversationID string, windowStart, windowEnd int, mergedSummary, windowSummary string) error
	ListNeedingCompaction(ctx context.Context, threshold int, limit int) ([]string, error)
}

// Compactor folds fixed-size windows of old messages into the compact
// summary in the background. At most one compaction runs per
// conversation at a time; the store's guarded watermark update is the
// final arbiter if locks ever disagree.
type Compactor struct {
	cfg       config.CompactionConfig
	store     storeAPI
	provider  core.LLMProvider
	locks     *keyedLocks
	outerLock Locker // optional cross-instance lock (redis)
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	queue    chan string
	inflight map[string]bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	started  bool
}

// New builds a compactor. outerLock may be nil for single-instance runs.
func New(cfg config.CompactionConfig, st storeAPI, provider core.LLMProvider, outerLock Locker, tele *telemetry.Telemetry, logger *log.Logger) *Compactor {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMPACT] ", log.LstdFlags)
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Compactor{
		cfg:       cfg,
		store:     st,
		provider:  provider,
		locks:     newKeyedLocks(),
		outerLock: outerLock,
		telemetry: tele,
		logger:    logger,
		queue:     make(chan string, queueSize),
		inflight:  make(map[string]bool),
	}
}

// Start launches the background worker. The worker is detached from the
// request path; turns only enqueue ids.
func (c *Compactor) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || !c.cfg.Enabled {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.wg.Add(1)
	go c.loop(ctx)
}

// Close stops the worker and waits for an in-flight run to finish.
func (c *Compactor) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// Notify schedules a threshold check for a conversation. Never blocks;
// when the queue is full the periodic sweep will pick the id up later.
func (c *Compactor) Notify(conversationID string) {
	if !c.cfg.Enabled {
		return
	}
	c.mu.Lock()
	if c.inflight[conversationID] {
		c.mu.Unlock()
		return
	}
	c.inflight[conversationID] = true
	c.mu.Unlock()

	select {
	case c.queue <- conversationID:
	default:
		c.mu.Lock()
		delete(c.inflight, conversationID)
		c.mu.Unlock()
		c.logger.Printf("queue full, deferring compaction check for %s to sweep", conversationID)
	}
}

func (c *Compactor) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.runOne(ctx, id)
			c.mu.Lock()
			delete(c.inflight, id)
			c.mu.Unlock()
		}
	}
}

// runOne compacts every full window currently pending for the
// conversation. Failures leave the watermark untouched; the next
// threshold crossing retries the same window.
func (c *Compactor) runOne(ctx context.Context, conversationID string) {
	unlock := c.locks.lock(conversationID)
	defer unlock()

	if c.outerLock != nil {
		release, ok, err := c.outerLock.TryLock(ctx, conversationID, c.cfg.LockTTL)
		if err != nil {
			c.logger.Printf("lock for %s unavailable: %v", conversationID, err)
			return
		}
		if !ok {
			return // another instance is compacting this conversation
		}
		defer release()
	}

	for {
		start := time.Now()
		progressed, err := c.compactNextWindow(ctx, conversationID)
		switch {
		case err == nil && progressed:
			c.telemetry.RecordCompaction("ok", time.Since(start))
			continue
		case err == nil:
			return // nothing (more) to do
		case errors.Is(err, store.ErrCompactionConflict):
			c.telemetry.RecordCompaction("conflict", time.Since(start))
			c.logger.Printf("compaction of %s lost the watermark race, backing off", conversationID)
			return
		default:
			c.telemetry.RecordCompaction("error", time.Since(start))
			c.logger.Printf("compaction of %s failed, will retry on next threshold: %v", conversationID, err)
			return
		}
	}
}

func (c *Compactor) compactNextWindow(ctx context.Context, conversationID string) (bool, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load conversation: %w", err)
	}
	if conv.MessageCount-conv.CompactedUpTo < c.cfg.Threshold {
		return false, nil
	}
	windowStart := conv.CompactedUpTo + 1
	windowEnd := conv.CompactedUpTo + c.cfg.Threshold

	tail, err := c.store.ReadTail(ctx, conversationID, conv.CompactedUpTo)
	if err != nil {
		return false, fmt.Errorf("read window: %w", err)
	}
	var window []store.Message
	for _, m := range tail {
		if m.MessageNumber >= windowStart && m.MessageNumber <= windowEnd {
			window = append(window, m)
		}
	}
	if len(window) != c.cfg.Threshold {
		return false, fmt.Errorf("window [%d,%d] incomplete: have %d messages", windowStart, windowEnd, len(window))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SummaryBudget)
	defer cancel()

	windowSummary, err := c.summarizeWindow(callCtx, window)
	if err != nil {
		return false, fmt.Errorf("summarize window [%d,%d]: %w", windowStart, windowEnd, err)
	}

	merged := windowSummary
	if conv.CompactSummary.Valid && strings.TrimSpace(conv.CompactSummary.String) != "" {
		merged, err = c.mergeSummaries(callCtx, conv.CompactSummary.String, windowSummary)
		if err != nil {
			// Merging is an improvement, not a requirement: a textual
			// append is still lossless for entities.
			c.logger.Printf("summary merge for %s failed, appending instead: %v", conversationID, err)
			merged = conv.CompactSummary.String + "\n\n" + windowSummary
		}
	}

	if err := c.store.CommitCompaction(ctx, conversationID, windowStart, windowEnd, merged, windowSummary); err != nil {
		return false, err
	}
	c.logger.Printf("compacted %s window [%d,%d]", conversationID, windowStart, windowEnd)
	return true, nil
}

func (c *Compactor) summarizeWindow(ctx context.Context, window []store.Message) (string, error) {
	var b strings.Builder
	b.WriteString(`Summarize the conversation excerpt below into dense prose.

CONSERVATION RULES:
1. Preserve every concrete fact, name, place, date and number VERBATIM.
   "2025-09-24" must appear as "2025-09-24", "68F" as "68F".
2. Preserve decisions, preferences and commitments either party stated.
3. Drop only filler, greetings and repetition.
4. Output plain prose, no headings or lists.

EXCERPT:
`)
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
	}
	summary, err := c.provider.Complete(ctx, b.String())
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary returned")
	}
	return summary, nil
}

func (c *Compactor) mergeSummaries(ctx context.Context, previous, next string) (string, error) {
	prompt := fmt.Sprintf(`Merge the two conversation summaries below into one.

CONSERVATION RULES:
1. Keep every concrete fact, name, place, date and number from BOTH
   summaries verbatim. When they conflict, keep both and say which is
   more recent.
2. Output plain prose, no headings or lists.

EARLIER SUMMARY:
%s

NEWER SUMMARY:
%s`, previous, next)
	merged, err := c.provider.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	merged = strings.TrimSpace(merged)
	if merged == "" {
		return "", fmt.Errorf("empty merged summary returned")
	}
	return merged, nil
}

// keyedLocks provides per-conversation mutual exclusion in-process.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
