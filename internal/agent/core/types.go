package core

import (
	"time"
)

// TurnRequest carries one user utterance into the pipeline. Everything a
// phase needs travels on this request or its derived context; there is
// no ambient per-user state.
type TurnRequest struct {
	ConversationID string    `json:"conversation_id"`
	UserText       string    `json:"user_text"`
	Owner          string    `json:"owner,omitempty"`
	Now            time.Time `json:"now"`
	Location       string    `json:"location,omitempty"`
}

// ConversationContext is the assembled history handed to the phases:
// the merged compact summary plus every message past the watermark.
type ConversationContext struct {
	CompactSummary string        `json:"compact_summary,omitempty"`
	Recent         []ContextLine `json:"recent"`
}

// ContextLine is one uncompacted message in assembly order.
type ContextLine struct {
	Number int    `json:"number"`
	Role   string `json:"role"`
	Text   string `json:"text"`
}

// AssessmentOutcome is the three-way routing decision of the first phase.
type AssessmentOutcome string

const (
	OutcomeDirect      AssessmentOutcome = "DIRECT"
	OutcomeToolsNeeded AssessmentOutcome = "TOOLS_NEEDED"
	OutcomeGuard       AssessmentOutcome = "CAPABILITY_GUARD"
)

// GuardReason classifies why a question must bypass the tool phases.
type GuardReason string

const (
	GuardIdentity     GuardReason = "IDENTITY"
	GuardCapabilities GuardReason = "CAPABILITIES"
	GuardTemporal     GuardReason = "TEMPORAL"
	GuardSecurity     GuardReason = "SECURITY"
	GuardMixed        GuardReason = "MIXED"
	GuardNone         GuardReason = ""
)

// PhaseAssessment is the parsed result of the assessment phase.
type PhaseAssessment struct {
	Outcome             AssessmentOutcome `json:"outcome"`
	GuardReason         GuardReason       `json:"guard_reason,omitempty"`
	DirectAnswer        string            `json:"direct_answer,omitempty"`
	ToolNeedDescription string            `json:"tool_need_description,omitempty"`
}

// ToolSelection is the ordered pick of registry entries plus free-text
// usage instructions for deriving arguments.
type ToolSelection struct {
	SelectedTools     []string `json:"selected_tools"`
	UsageInstructions string   `json:"usage_instructions"`
	Sequential        bool     `json:"sequential"` // later tools depend on earlier results
}

// Tool result statuses.
const (
	ToolStatusOK    = "ok"
	ToolStatusError = "error"
)

// ToolResult captures one tool invocation, success or failure. Failures
// are recorded, never raised past the executor.
type ToolResult struct {
	ToolName    string                 `json:"tool_name"`
	Arguments   map[string]interface{} `json:"arguments,omitempty"`
	Status      string                 `json:"status"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
	Elapsed     time.Duration          `json:"elapsed,omitempty"`
}

// FallbackKind names the fixed fallback taxonomy the quality gate draws
// from when it rejects a formatted answer.
type FallbackKind string

const (
	FallbackNone         FallbackKind = ""
	FallbackUnknown      FallbackKind = "unknown"       // information unavailable
	FallbackForbidden    FallbackKind = "forbidden"     // not permitted
	FallbackUnsupported  FallbackKind = "unsupported"   // exceeds capability
	FallbackMissingInput FallbackKind = "missing-input" // needs more detail
	FallbackRetryOnce    FallbackKind = "retry-once"    // regenerate formatting once
)

// QualityResult is the gate's verdict plus the text that actually ships.
type QualityResult struct {
	Approved     bool         `json:"approved"`
	ResponseText string       `json:"response_text"`
	FallbackKind FallbackKind `json:"fallback_kind,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// PhaseState enumerates the controller's state machine.
type PhaseState string

const (
	StateAssessing     PhaseState = "ASSESSING"
	StateDirectDone    PhaseState = "DIRECT_DONE"
	StateGuardRoute    PhaseState = "GUARD_ROUTE"
	StateToolSelecting PhaseState = "TOOL_SELECTING"
	StateToolExecuting PhaseState = "TOOL_EXECUTING"
	StateFormatting    PhaseState = "FORMATTING"
	StateQualityCheck  PhaseState = "QUALITY_CHECK"
	StateDone          PhaseState = "DONE"
	StateFallbackDone  PhaseState = "FALLBACK_DONE"
)

// TurnBackground accumulates what the phases produced, for formatting
// and quality checking. It is also the turn's audit trail.
type TurnBackground struct {
	Assessment  PhaseAssessment `json:"assessment"`
	Selection   *ToolSelection  `json:"selection,omitempty"`
	ToolResults []ToolResult    `json:"tool_results,omitempty"`
	History     []PhaseState    `json:"history"`
}

// TurnOutcome is the completed cycle: final text, terminal state and the
// message numbers the turn was persisted under.
type TurnOutcome struct {
	ConversationID string        `json:"conversation_id"`
	FinalText      string        `json:"final_text"`
	State          PhaseState    `json:"state"`
	Background     TurnBackground `json:"background"`
	UserMessageNum int           `json:"user_message_num"`
	AsstMessageNum int           `json:"asst_message_num"`
	Elapsed        time.Duration `json:"elapsed"`
}
