package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/converse/config"
	"github.com/mohammad-safakhou/converse/internal/agent/telemetry"
	"github.com/mohammad-safakhou/converse/internal/capability"
)

// TurnStore is the slice of the conversation store the controller needs.
type TurnStore interface {
	AppendTurn(ctx context.Context, conversationID, owner, userText, assistantText string) (userNum, assistantNum int, err error)
	ReadTail(ctx context.Context, conversationID string, afterNumber int) ([]StoredMessage, error)
	ReadCompact(ctx context.Context, conversationID string) (summary string, compactedUpTo int, err error)
}

// StoredMessage mirrors one persisted message for context assembly.
type StoredMessage struct {
	MessageNumber int
	Role          string
	Text          string
}

// CompactionNotifier is poked after every successful append so the
// compactor can check its threshold. Must not block the request path.
type CompactionNotifier interface {
	Notify(conversationID string)
}

// Controller drives one turn through the phase state machine and writes
// the resulting exchange to the store. It is safe for concurrent use
// across conversations.
type Controller struct {
	cfg       *config.Config
	store     TurnStore
	guard     *Guard
	selector  *Selector
	executor  *Executor
	formatter *Formatter
	quality   *QualityGate
	registry  *capability.Registry
	compactor CompactionNotifier
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewController wires the pipeline phases around a shared LLM provider.
func NewController(cfg *config.Config, provider LLMProvider, store TurnStore, registry *capability.Registry, compactor CompactionNotifier, tele *telemetry.Telemetry, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	return &Controller{
		cfg:       cfg,
		store:     store,
		guard:     NewGuard(cfg, provider, logger),
		selector:  NewSelector(provider, registry, logger),
		executor:  NewExecutor(provider, registry, cfg.Tools.InvokeTimeout, logger),
		formatter: NewFormatter(cfg.Persona, provider, logger),
		quality:   NewQualityGate(cfg.Persona, provider, logger),
		registry:  registry,
		compactor: compactor,
		telemetry: tele,
		logger:    logger,
	}
}

// turnState is the mutable state threaded through the transitions.
type turnState struct {
	req        TurnRequest
	convCtx    ConversationContext
	background TurnBackground
	finalText  string
	state      PhaseState
	retried    bool
}

// ProcessTurn is the sole entry point: user text in, persisted
// assistant text out. Internal phase errors degrade to deterministic
// rules or fallbacks; only a store write failure surfaces as an error,
// and in that case nothing of the turn is visible to future reads.
func (c *Controller) ProcessTurn(ctx context.Context, req TurnRequest) (TurnOutcome, error) {
	start := time.Now()
	if strings.TrimSpace(req.UserText) == "" {
		return TurnOutcome{}, fmt.Errorf("empty user text")
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	if c.cfg.General.MaxTurnTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.General.MaxTurnTime)
		defer cancel()
	}

	convCtx, err := c.loadContext(ctx, req.ConversationID)
	if err != nil {
		// Context is an optimization of quality, not a prerequisite; log
		// and continue with an empty window.
		c.logger.Printf("context load for %s failed: %v", req.ConversationID, err)
	}

	ts := &turnState{req: req, convCtx: convCtx, state: StateAssessing}
	for ts.state != StateDone && ts.state != StateFallbackDone {
		next := c.step(ctx, ts)
		ts.background.History = append(ts.background.History, ts.state)
		ts.state = next
	}

	outcome := TurnOutcome{
		ConversationID: req.ConversationID,
		FinalText:      ts.finalText,
		State:          ts.state,
		Background:     ts.background,
		Elapsed:        time.Since(start),
	}

	userNum, asstNum, err := c.store.AppendTurn(ctx, req.ConversationID, req.Owner, req.UserText, ts.finalText)
	if err != nil {
		c.recordTurn(req, start, string(ts.state), ts.background, false, err)
		return TurnOutcome{}, fmt.Errorf("persist turn: %w", err)
	}
	outcome.UserMessageNum = userNum
	outcome.AsstMessageNum = asstNum

	if c.compactor != nil {
		c.compactor.Notify(req.ConversationID)
	}
	c.recordTurn(req, start, string(ts.state), ts.background, true, nil)
	return outcome, nil
}

// step runs exactly one state transition.
func (c *Controller) step(ctx context.Context, ts *turnState) PhaseState {
	switch ts.state {
	case StateAssessing:
		return c.stepAssess(ctx, ts)
	case StateDirectDone, StateGuardRoute, StateToolExecuting:
		return StateFormatting
	case StateToolSelecting:
		return c.stepToolSelect(ctx, ts)
	case StateFormatting:
		return c.stepFormat(ctx, ts)
	case StateQualityCheck:
		return c.stepQuality(ctx, ts)
	default:
		c.logger.Printf("unexpected state %s, forcing fallback", ts.state)
		ts.finalText = c.quality.FallbackText(FallbackUnknown)
		return StateFallbackDone
	}
}

func (c *Controller) stepAssess(ctx context.Context, ts *turnState) PhaseState {
	phaseStart := time.Now()
	assessment := c.guard.Assess(ctx, ts.req, ts.convCtx, c.registry.Categories())
	c.telemetry.RecordPhase("assess", time.Since(phaseStart))
	ts.background.Assessment = assessment

	switch assessment.Outcome {
	case OutcomeGuard:
		return StateGuardRoute
	case OutcomeDirect:
		return StateDirectDone
	default:
		return StateToolSelecting
	}
}

func (c *Controller) stepToolSelect(ctx context.Context, ts *turnState) PhaseState {
	phaseStart := time.Now()
	selection := c.selector.Select(ctx, ts.req.UserText, ts.background.Assessment.ToolNeedDescription)
	c.telemetry.RecordPhase("select", time.Since(phaseStart))
	ts.background.Selection = &selection

	execStart := time.Now()
	results := c.executor.Execute(ctx, ts.req, selection)
	c.telemetry.RecordPhase("execute", time.Since(execStart))
	ts.background.ToolResults = results
	for _, r := range results {
		c.telemetry.RecordToolInvocation(r.ToolName, r.Status)
	}
	return StateToolExecuting
}

func (c *Controller) stepFormat(ctx context.Context, ts *turnState) PhaseState {
	phaseStart := time.Now()
	ts.finalText = c.formatter.Format(ctx, ts.req.UserText, ts.background)
	c.telemetry.RecordPhase("format", time.Since(phaseStart))
	return StateQualityCheck
}

func (c *Controller) stepQuality(ctx context.Context, ts *turnState) PhaseState {
	phaseStart := time.Now()
	verdict := c.quality.Check(ctx, ts.req.UserText, ts.finalText, ts.background)
	c.telemetry.RecordPhase("quality", time.Since(phaseStart))

	if verdict.Approved {
		ts.finalText = verdict.ResponseText
		return StateDone
	}
	if verdict.FallbackKind == FallbackRetryOnce && !ts.retried {
		// One bounded reformat; a second rejection falls through to the
		// unknown fallback below.
		ts.retried = true
		c.logger.Printf("quality rejected (%s), reformatting once", verdict.Reason)
		return StateFormatting
	}
	kind := verdict.FallbackKind
	if kind == FallbackRetryOnce || kind == FallbackNone {
		kind = FallbackUnknown
	}
	text := verdict.ResponseText
	if text == "" {
		text = c.quality.FallbackText(kind)
	}
	c.logger.Printf("quality fallback %s: %s", kind, verdict.Reason)
	ts.finalText = text
	return StateFallbackDone
}

// loadContext assembles the compact summary plus the uncompacted tail.
func (c *Controller) loadContext(ctx context.Context, conversationID string) (ConversationContext, error) {
	summary, compactedUpTo, err := c.store.ReadCompact(ctx, conversationID)
	if err != nil {
		return ConversationContext{}, err
	}
	tail, err := c.store.ReadTail(ctx, conversationID, compactedUpTo)
	if err != nil {
		return ConversationContext{}, err
	}
	out := ConversationContext{CompactSummary: summary}
	for _, m := range tail {
		out.Recent = append(out.Recent, ContextLine{Number: m.MessageNumber, Role: m.Role, Text: m.Text})
	}
	return out, nil
}

// GetContext is the read-only accessor other callers (debug views) use
// without triggering processing.
func (c *Controller) GetContext(ctx context.Context, conversationID string) (ConversationContext, error) {
	return c.loadContext(ctx, conversationID)
}

func (c *Controller) recordTurn(req TurnRequest, start time.Time, state string, background TurnBackground, success bool, err error) {
	event := telemetry.TurnEvent{
		ConversationID: req.ConversationID,
		StartTime:      start,
		EndTime:        time.Now(),
		State:          state,
		Success:        success,
	}
	if state == string(StateFallbackDone) {
		event.FallbackKind = "fallback"
	}
	for _, r := range background.ToolResults {
		event.ToolsUsed = append(event.ToolsUsed, r.ToolName)
	}
	if err != nil {
		event.Error = err.Error()
	}
	c.telemetry.RecordTurn(event)
}
