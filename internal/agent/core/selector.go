package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/converse/internal/capability"
)

// Selector picks tools for a turn. It sees names, descriptions and
// parameter schemas of enabled tools only.
type Selector struct {
	provider LLMProvider
	registry *capability.Registry
	logger   *log.Logger
}

func NewSelector(provider LLMProvider, registry *capability.Registry, logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.New(log.Writer(), "[SELECT] ", log.LstdFlags)
	}
	return &Selector{provider: provider, registry: registry, logger: logger}
}

// Select chooses an ordered subset of enabled tools for the described
// capability. Selection of a name that is unknown or disabled is kept in
// the selection and surfaces later as an errored tool result; it is the
// quality gate's evidence, not a crash. A parse failure degrades to an
// empty selection with the need description as instructions.
func (s *Selector) Select(ctx context.Context, question, needDescription string) ToolSelection {
	prompt := s.buildSelectionPrompt(question, needDescription)
	response, err := s.provider.Complete(ctx, prompt)
	if err != nil {
		s.logger.Printf("selection call failed: %v", err)
		return ToolSelection{UsageInstructions: needDescription}
	}
	selection, err := parseSelection(response)
	if err != nil {
		s.logger.Printf("selection unparsable: %v", err)
		return ToolSelection{UsageInstructions: needDescription}
	}
	return selection
}

func (s *Selector) buildSelectionPrompt(question, needDescription string) string {
	var b strings.Builder
	b.WriteString("You select tools for a conversational assistant.\n\n")
	fmt.Fprintf(&b, "QUESTION: %s\n", question)
	fmt.Fprintf(&b, "NEEDED CAPABILITY: %s\n\n", needDescription)
	b.WriteString("AVAILABLE TOOLS:\n")
	for _, d := range s.registry.Enabled() {
		schema, _ := json.Marshal(d.Parameters)
		fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", d.Name, d.Description, schema)
	}
	b.WriteString(`
SELECTION REQUIREMENTS:
1. Select only tools from the list above, by exact name.
2. Order matters: put a tool whose input depends on another tool's output
   after it, and set "sequential" to true in that case.
3. Write usage_instructions that say, for each selected tool, what
   arguments to derive from the question and from earlier results.
4. Select nothing if no listed tool helps.

OUTPUT FORMAT (JSON):
{
  "selected_tools": ["tool_name"],
  "usage_instructions": "how to call each tool",
  "sequential": false
}

Respond with the JSON object only.`)
	return b.String()
}

func parseSelection(response string) (ToolSelection, error) {
	jsonStr, ok := extractJSON(response)
	if !ok {
		return ToolSelection{}, fmt.Errorf("no JSON found in response")
	}
	var raw struct {
		SelectedTools     []string `json:"selected_tools"`
		UsageInstructions string   `json:"usage_instructions"`
		Sequential        bool     `json:"sequential"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return ToolSelection{}, fmt.Errorf("invalid selection json: %w", err)
	}
	var names []string
	for _, n := range raw.SelectedTools {
		n = strings.TrimSpace(n)
		if n != "" {
			names = append(names, n)
		}
	}
	return ToolSelection{
		SelectedTools:     names,
		UsageInstructions: strings.TrimSpace(raw.UsageInstructions),
		Sequential:        raw.Sequential,
	}, nil
}
