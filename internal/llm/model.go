// Package llm wraps the language model used for extraction, deduplication,
// completion detection and summaries.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedResponse means the model answered but no JSON array could be
// recovered from the text.
var ErrMalformedResponse = errors.New("malformed model response")

// Model is the single capability the pipeline needs from a language model.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExtractJSONArray recovers a JSON array from model output. Markdown code
// fences are stripped, then the text between the first '[' and the last ']'
// is taken and validated.
func ExtractJSONArray(text string) (string, error) {
	text = stripCodeFence(strings.TrimSpace(text))

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return "", ErrMalformedResponse
	}
	payload := text[start : end+1]
	if !gjson.Valid(payload) || !gjson.Parse(payload).IsArray() {
		return "", ErrMalformedResponse
	}
	return payload, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	end := strings.LastIndex(text, "```")
	if end <= 3 {
		return strings.TrimPrefix(text, "```")
	}
	inner := text[3:end]
	// drop a language tag such as "json"
	if nl := strings.Index(inner, "\n"); nl != -1 && !strings.ContainsAny(inner[:nl], "[{") {
		inner = inner[nl+1:]
	}
	return strings.TrimSpace(inner)
}
