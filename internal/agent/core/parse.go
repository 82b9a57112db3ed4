package core

import (
	"strings"
)

// extractJSON pulls the first balanced JSON object out of an LLM reply.
// Models wrap JSON in prose or code fences often enough that plain
// unmarshal of the whole reply is not workable.
func extractJSON(response string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return response[start : i+1], true
			}
		}
	}
	return "", false
}

// sentenceCount is a rough count used for the persona conciseness
// ceiling; it does not need to be linguistically exact.
func sentenceCount(text string) int {
	count := 0
	for i := 0; i < len(text); i++ {
		if isSentenceEnd(text, i) {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return count
}

// isSentenceEnd reports whether the byte at i terminates a sentence. A
// period flanked by digits is part of a number or dotted date, not a
// boundary.
func isSentenceEnd(text string, i int) bool {
	switch text[i] {
	case '!', '?':
		return true
	case '.':
		if i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1]) {
			return false
		}
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
