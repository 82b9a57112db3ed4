package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/converse/config"
)

// Formatter renders the final answer in the assistant's persona. It is a
// pure transformation of (question, persona rules, phase background);
// tool payloads are background material and never appear as raw JSON in
// the user-visible text.
type Formatter struct {
	persona  config.PersonaConfig
	provider LLMProvider
	logger   *log.Logger
}

func NewFormatter(persona config.PersonaConfig, provider LLMProvider, logger *log.Logger) *Formatter {
	if logger == nil {
		logger = log.New(log.Writer(), "[FORMAT] ", log.LstdFlags)
	}
	return &Formatter{persona: persona, provider: provider, logger: logger}
}

// Format produces the persona-wrapped answer. Guard-routed turns get the
// full persona identity block, not the lean assessment context, so the
// assistant answers about itself rather than the underlying model. A
// failed LLM call degrades to a deterministic rendering of whatever the
// background already holds.
func (f *Formatter) Format(ctx context.Context, question string, background TurnBackground) string {
	prompt := f.buildFormatPrompt(question, background)
	response, err := f.provider.Complete(ctx, prompt)
	if err != nil {
		f.logger.Printf("format call failed, degrading to deterministic text: %v", err)
		return f.deterministicText(background)
	}
	text := strings.TrimSpace(response)
	if text == "" {
		return f.deterministicText(background)
	}
	return f.applyPersonaConstraints(text)
}

func (f *Formatter) buildFormatPrompt(question string, background TurnBackground) string {
	var b strings.Builder
	b.WriteString("You write the final reply of a conversational assistant.\n\n")
	b.WriteString(f.personaBlock(background.Assessment.GuardReason != GuardNone))
	fmt.Fprintf(&b, "\nQUESTION: %s\n\n", question)

	switch {
	case background.Assessment.GuardReason != GuardNone:
		fmt.Fprintf(&b, "This question touches the assistant's own %s. Answer it as %s, strictly from the persona above. Never mention an underlying model, provider, or training data.\n",
			strings.ToLower(string(background.Assessment.GuardReason)), f.persona.Name)
		if background.Assessment.GuardReason == GuardMixed {
			b.WriteString("The question has a second, unrelated part. Address that part too, from the background below if present, otherwise say plainly what is missing.\n")
		}
	case background.Assessment.DirectAnswer != "":
		fmt.Fprintf(&b, "DRAFT ANSWER: %s\n", background.Assessment.DirectAnswer)
	}

	if len(background.ToolResults) > 0 {
		b.WriteString("\nTOOL RESULTS (background material, never quote as JSON):\n")
		for _, r := range background.ToolResults {
			if r.Status == ToolStatusOK {
				payload, _ := json.Marshal(r.Payload)
				fmt.Fprintf(&b, "- %s succeeded: %s\n", r.ToolName, payload)
			} else {
				fmt.Fprintf(&b, "- %s FAILED: %s\n", r.ToolName, r.ErrorDetail)
			}
		}
		b.WriteString("\nIf a tool failed, say so honestly; never present data a failed tool did not return.\n")
	}

	fmt.Fprintf(&b, "\nWrite the reply now: natural prose, at most %d sentences, ending with the closing phrase %q.\n",
		f.persona.MaxSentences, f.persona.ClosingPhrase)
	return b.String()
}

func (f *Formatter) personaBlock(full bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PERSONA: You are %s.\n", f.persona.Name)
	for _, rule := range f.persona.ToneRules {
		fmt.Fprintf(&b, "- %s\n", rule)
	}
	if full {
		fmt.Fprintf(&b, "- You are %s and nothing else; questions about your name, nature, abilities or knowledge of time are about %s.\n",
			f.persona.Name, f.persona.Name)
	}
	return b.String()
}

// deterministicText renders the background without the LLM: the direct
// answer when one exists, otherwise an honest unavailable notice.
func (f *Formatter) deterministicText(background TurnBackground) string {
	if a := background.Assessment.DirectAnswer; a != "" {
		return f.applyPersonaConstraints(a)
	}
	return f.applyPersonaConstraints("I don't have that information available right now.")
}

// applyPersonaConstraints enforces the two constraints that can be
// checked mechanically: the signature closing and the sentence ceiling.
func (f *Formatter) applyPersonaConstraints(text string) string {
	text = strings.TrimSpace(text)
	if f.persona.MaxSentences > 0 && sentenceCount(text) > f.persona.MaxSentences {
		text = truncateSentences(text, f.persona.MaxSentences)
	}
	closing := strings.TrimSpace(f.persona.ClosingPhrase)
	if closing != "" && !strings.HasSuffix(text, closing) {
		text = text + " " + closing
	}
	return text
}

func truncateSentences(text string, max int) string {
	count := 0
	for i := 0; i < len(text); i++ {
		if isSentenceEnd(text, i) {
			count++
			if count == max {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
