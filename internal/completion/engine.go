// Package completion looks for evidence in recent content that open todos
// have been finished.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

type Engine struct {
	model llm.Model
	log   *logrus.Entry
}

func NewEngine(model llm.Model, log *logrus.Entry) *Engine {
	return &Engine{model: model, log: log.WithField("component", "completion")}
}

// Detect returns one signal per open todo the model found completion evidence
// for. Signals below the caller's threshold are still returned. Empty input
// makes no model call.
func (e *Engine) Detect(ctx context.Context, open []models.PersistedTodo, bundle *models.ContentBundle) ([]models.CompletionSignal, error) {
	content := renderContent(bundle)
	if len(open) == 0 || content == "" {
		return nil, nil
	}

	prompt, err := buildPrompt(open, content)
	if err != nil {
		return nil, err
	}
	raw, err := e.model.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("completion model call: %w", err)
	}

	signals, err := ParseSignals(raw, open)
	if err != nil {
		e.log.WithError(err).WithField("raw_response", logging.Truncate(raw, 1000)).Error("could not parse completion response")
		return nil, nil
	}
	e.log.WithFields(logrus.Fields{"open": len(open), "completed": len(signals)}).Info("completion detection complete")
	return signals, nil
}

// ParseSignals keeps entries marked is_completed that reference one of the
// open todos, at most one per todo.
func ParseSignals(raw string, open []models.PersistedTodo) ([]models.CompletionSignal, error) {
	payload, err := llm.ExtractJSONArray(raw)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(open))
	for _, t := range open {
		known[t.ID] = true
	}

	seen := map[string]bool{}
	var signals []models.CompletionSignal
	for _, item := range gjson.Parse(payload).Array() {
		id := item.Get("todo_id").String()
		if !item.Get("is_completed").Bool() || !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		signals = append(signals, models.CompletionSignal{
			TodoID:     id,
			Confidence: item.Get("confidence").Float(),
			Evidence:   strings.TrimSpace(item.Get("evidence").String()),
		})
	}
	return signals, nil
}

func renderContent(bundle *models.ContentBundle) string {
	if bundle == nil {
		return ""
	}
	var b strings.Builder
	for _, group := range bundle.Grouped() {
		var texts []string
		for _, item := range group.Items {
			if strings.TrimSpace(item.Text) != "" {
				texts = append(texts, item.Text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", group.Source.Label(), strings.Join(texts, "\n"))
	}
	return b.String()
}

type todoSummary struct {
	ID   string `json:"id"`
	Task string `json:"task"`
}

func buildPrompt(open []models.PersistedTodo, content string) (string, error) {
	summaries := make([]todoSummary, len(open))
	for i, t := range open {
		summaries[i] = todoSummary{ID: t.ID, Task: t.Task}
	}
	todosJSON, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`You are analyzing recent messages to detect whether any open todos have ACTUALLY been completed.

**BE CONSERVATIVE.** Only mark a todo completed when there is clear evidence that the deliverable was sent, finished, or received.

Valid completion signals:
- The owner saying they DID it: "I sent it", "Done!", "Just finished", "Attached"
- The recipient confirming RECEIPT of the deliverable: "Got it, thanks!", "Received the document"
- An explicit status: "Done", "Completed", "Finished"

NOT completion signals:
- Acknowledging a commitment or timeline: "Thanks for the update", "Sounds good"
- Future tense: "I'll send it tomorrow", "Will do", "I'll wait to hear back"
- Someone doing a related but different task
- General thank-yous that do not confirm receipt of this specific deliverable

Open todos:
%s

Recent content:
%s

For each todo with CLEAR evidence of completion, report it. When in doubt, do NOT mark it completed.

Return a JSON array with this structure:
[
  {
    "todo_id": "todo-id",
    "is_completed": true,
    "confidence": 0.9,
    "evidence": "Quote from the content showing completion"
  }
]

Only return the JSON array, no additional text. Return an empty array if nothing was completed.`, todosJSON, content), nil
}
