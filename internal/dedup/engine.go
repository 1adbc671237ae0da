// Package dedup decides, with one model call per run, which candidate todos
// restate an already persisted todo.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// Verdict is the model's judgement for one candidate.
type Verdict struct {
	NewTodoID      int
	IsDuplicate    bool
	ExistingTodoID string
	Confidence     float64
	Reasoning      string
}

type Engine struct {
	model llm.Model
	log   *logrus.Entry
}

func NewEngine(model llm.Model, log *logrus.Entry) *Engine {
	return &Engine{model: model, log: log.WithField("component", "dedup")}
}

// Deduplicate marks candidates that duplicate an existing todo with UpdateID
// and gives every other candidate a dedupe hash. It never drops a candidate:
// a failed or unreadable comparison treats them all as new.
func (e *Engine) Deduplicate(ctx context.Context, candidates []models.CandidateTodo, existing []models.PersistedTodo) []models.CandidateTodo {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]models.CandidateTodo, len(candidates))
	copy(out, candidates)

	if len(existing) == 0 {
		return markAllNew(out)
	}

	prompt, err := buildPrompt(out, existing)
	if err != nil {
		e.log.WithError(err).Error("could not build dedup prompt")
		return markAllNew(out)
	}
	raw, err := e.model.Complete(ctx, prompt)
	if err != nil {
		e.log.WithError(err).Warn("dedup model call failed, treating all candidates as new")
		return markAllNew(out)
	}
	verdicts, err := ParseVerdicts(raw)
	if err != nil {
		e.log.WithError(err).WithField("raw_response", logging.Truncate(raw, 1000)).Error("could not parse dedup response, treating all candidates as new")
		return markAllNew(out)
	}

	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t.ID] = true
	}

	duplicates := 0
	for _, v := range verdicts {
		if !v.IsDuplicate || v.NewTodoID < 0 || v.NewTodoID >= len(out) || !known[v.ExistingTodoID] {
			continue
		}
		out[v.NewTodoID].UpdateID = v.ExistingTodoID
		out[v.NewTodoID].MergeConfidence = v.Confidence
		duplicates++
		e.log.WithFields(logrus.Fields{
			"task":        out[v.NewTodoID].Task,
			"existing_id": v.ExistingTodoID,
			"confidence":  v.Confidence,
		}).Debug("duplicate found")
	}
	for i := range out {
		if !out[i].IsDuplicate() {
			out[i].DedupeHash = models.DedupeHash(out[i].Task, out[i].AssignedTo)
		}
	}

	e.log.WithFields(logrus.Fields{"new": len(out) - duplicates, "duplicates": duplicates}).Info("deduplication complete")
	return out
}

func markAllNew(todos []models.CandidateTodo) []models.CandidateTodo {
	for i := range todos {
		todos[i].UpdateID = ""
		todos[i].MergeConfidence = 0
		todos[i].DedupeHash = models.DedupeHash(todos[i].Task, todos[i].AssignedTo)
	}
	return todos
}

// ParseVerdicts reads the model's verdict array.
func ParseVerdicts(raw string) ([]Verdict, error) {
	payload, err := llm.ExtractJSONArray(raw)
	if err != nil {
		return nil, err
	}
	var verdicts []Verdict
	for _, item := range gjson.Parse(payload).Array() {
		id := item.Get("new_todo_id")
		if id.Type != gjson.Number {
			continue
		}
		verdicts = append(verdicts, Verdict{
			NewTodoID:      int(id.Int()),
			IsDuplicate:    item.Get("is_duplicate").Bool(),
			ExistingTodoID: item.Get("existing_todo_id").String(),
			Confidence:     item.Get("confidence").Float(),
			Reasoning:      item.Get("reasoning").String(),
		})
	}
	return verdicts, nil
}

type newSummary struct {
	ID         int     `json:"id"`
	Task       string  `json:"task"`
	AssignedTo *string `json:"assigned_to"`
}

type existingSummary struct {
	ID      string   `json:"id"`
	Task    string   `json:"task"`
	Sources []string `json:"sources"`
}

func buildPrompt(candidates []models.CandidateTodo, existing []models.PersistedTodo) (string, error) {
	news := make([]newSummary, len(candidates))
	for i, c := range candidates {
		news[i] = newSummary{ID: i, Task: c.Task}
		if c.AssignedTo != "" {
			assignee := c.AssignedTo
			news[i].AssignedTo = &assignee
		}
	}
	olds := make([]existingSummary, len(existing))
	for i, t := range existing {
		olds[i] = existingSummary{ID: t.ID, Task: t.Task, Sources: []string{}}
		if t.Source != "" {
			olds[i].Sources = []string{string(t.Source)}
		}
	}

	newJSON, err := json.MarshalIndent(news, "", "  ")
	if err != nil {
		return "", err
	}
	oldJSON, err := json.MarshalIndent(olds, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`You are analyzing todo items to identify duplicates based on semantic similarity.

Compare these new todos against existing todos and identify which ones are duplicates.

New todos:
%s

Existing todos:
%s

For each new todo, decide whether it matches an existing todo. Todos are duplicates when they describe the same task, even if worded differently.

Return a JSON array with this structure:
[
  {
    "new_todo_id": 0,
    "is_duplicate": true,
    "existing_todo_id": "existing-todo-id",
    "confidence": 0.9,
    "reasoning": "Brief explanation"
  }
]

Only return the JSON array, no additional text.`, newJSON, oldJSON), nil
}
