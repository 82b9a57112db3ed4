package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/converse/internal/capability"
)

// Executor invokes the selected tools. Every invocation is bounded by a
// timeout and every failure becomes a recorded ToolResult; nothing a
// tool does can abort the turn.
type Executor struct {
	provider      LLMProvider
	registry      *capability.Registry
	invokeTimeout time.Duration
	logger        *log.Logger
}

func NewExecutor(provider LLMProvider, registry *capability.Registry, invokeTimeout time.Duration, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(log.Writer(), "[EXEC] ", log.LstdFlags)
	}
	if invokeTimeout <= 0 {
		invokeTimeout = 20 * time.Second
	}
	return &Executor{provider: provider, registry: registry, invokeTimeout: invokeTimeout, logger: logger}
}

// Execute runs the selection. When the selection is sequential each
// tool's argument derivation sees the results so far (dates found by a
// memory search can feed a weather lookup); otherwise the tools run
// concurrently. Results keep selection order either way.
func (e *Executor) Execute(ctx context.Context, req TurnRequest, selection ToolSelection) []ToolResult {
	if len(selection.SelectedTools) == 0 {
		return nil
	}
	results := make([]ToolResult, len(selection.SelectedTools))
	if selection.Sequential {
		for i, name := range selection.SelectedTools {
			results[i] = e.runOne(ctx, req, selection, name, results[:i])
		}
		return results
	}
	var wg sync.WaitGroup
	for i, name := range selection.SelectedTools {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = e.runOne(ctx, req, selection, name, nil)
		}(i, name)
	}
	wg.Wait()
	return results
}

func (e *Executor) runOne(ctx context.Context, req TurnRequest, selection ToolSelection, name string, prior []ToolResult) ToolResult {
	start := time.Now()
	result := ToolResult{ToolName: name}

	entry, ok := e.registry.Lookup(name)
	if !ok {
		result.Status = ToolStatusError
		result.ErrorDetail = fmt.Sprintf("tool %q is not registered", name)
		return result
	}
	if !entry.Descriptor.Enabled {
		result.Status = ToolStatusError
		result.ErrorDetail = fmt.Sprintf("tool %q is disabled", name)
		return result
	}

	args := e.deriveArguments(ctx, req.UserText, selection, entry.Descriptor, prior)
	// Identifiers the model cannot know are injected, not derived.
	if schemaHasProperty(entry.Descriptor.Parameters, "conversation_id") {
		args["conversation_id"] = req.ConversationID
	}
	result.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, e.invokeTimeout)
	defer cancel()
	payload, err := e.registry.Invoke(callCtx, name, args)
	result.Elapsed = time.Since(start)
	if err != nil {
		result.Status = ToolStatusError
		result.ErrorDetail = humanToolError(name, err)
		e.logger.Printf("tool %s failed after %s: %v", name, result.Elapsed, err)
		return result
	}
	result.Status = ToolStatusOK
	result.Payload = payload
	return result
}

// deriveArguments asks the LLM to turn the usage instructions into a
// concrete argument object for one tool. On any failure it falls back to
// the deterministic {"query": question} so the tool still gets called.
func (e *Executor) deriveArguments(ctx context.Context, question string, selection ToolSelection, desc capability.Descriptor, prior []ToolResult) map[string]interface{} {
	prompt := buildArgumentPrompt(question, selection, desc, prior)
	response, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		e.logger.Printf("argument derivation for %s failed: %v", desc.Name, err)
		return map[string]interface{}{"query": question}
	}
	jsonStr, ok := extractJSON(response)
	if !ok {
		return map[string]interface{}{"query": question}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &args); err != nil {
		return map[string]interface{}{"query": question}
	}
	return args
}

func buildArgumentPrompt(question string, selection ToolSelection, desc capability.Descriptor, prior []ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Derive call arguments for the tool %q.\n\n", desc.Name)
	fmt.Fprintf(&b, "QUESTION: %s\n", question)
	fmt.Fprintf(&b, "USAGE INSTRUCTIONS: %s\n", selection.UsageInstructions)
	schema, _ := json.Marshal(desc.Parameters)
	fmt.Fprintf(&b, "PARAMETER SCHEMA: %s\n", schema)
	if len(prior) > 0 {
		b.WriteString("EARLIER TOOL RESULTS:\n")
		for _, r := range prior {
			encoded, _ := json.Marshal(r)
			fmt.Fprintf(&b, "%s\n", encoded)
		}
	}
	b.WriteString("\nRespond with a single JSON object matching the parameter schema. No other text.")
	return b.String()
}

func schemaHasProperty(schema map[string]interface{}, name string) bool {
	props, _ := schema["properties"].(map[string]interface{})
	_, ok := props[name]
	return ok
}

func humanToolError(name string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("tool %q timed out", name)
	case errors.Is(err, capability.ErrToolUnknown):
		return fmt.Sprintf("tool %q is not registered", name)
	case errors.Is(err, capability.ErrToolDisabled):
		return fmt.Sprintf("tool %q is disabled", name)
	default:
		return fmt.Sprintf("tool %q failed: %v", name, err)
	}
}
