package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// SummaryFallback is returned when the model could not write a summary.
const SummaryFallback = "Daily summary unavailable."

const summaryTodoLimit = 20

// Summarizer writes the short markdown digest of a run.
type Summarizer struct {
	model llm.Model
	log   *logrus.Entry
}

func NewSummarizer(model llm.Model, log *logrus.Entry) *Summarizer {
	return &Summarizer{model: model, log: log.WithField("component", "summarizer")}
}

// SummaryStats are the numbers the digest reports.
type SummaryStats struct {
	New       int
	Completed int
	Open      int
	Overdue   int
}

// StatsFor derives the digest numbers from a run and the current open todos.
func StatsFor(stats models.RunStats, open []models.PersistedTodo, today time.Time) SummaryStats {
	s := SummaryStats{New: stats.Created, Completed: stats.Completed, Open: len(open)}
	for _, t := range open {
		if t.IsOverdue(today) {
			s.Overdue++
		}
	}
	return s
}

// Summarize returns the model's digest or SummaryFallback.
func (s *Summarizer) Summarize(ctx context.Context, stats models.RunStats, open []models.PersistedTodo, today time.Time) string {
	prompt, err := buildSummaryPrompt(StatsFor(stats, open, today), open)
	if err != nil {
		s.log.WithError(err).Error("could not build summary prompt")
		return SummaryFallback
	}
	summary, err := s.model.Complete(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Error("summary model call failed")
		return SummaryFallback
	}
	if summary = strings.TrimSpace(summary); summary == "" {
		return SummaryFallback
	}
	return summary
}

type summaryTodo struct {
	Task    string `json:"task"`
	DueDate string `json:"due_date"`
	Source  string `json:"source"`
}

func buildSummaryPrompt(stats SummaryStats, open []models.PersistedTodo) (string, error) {
	if len(open) > summaryTodoLimit {
		open = open[:summaryTodoLimit]
	}
	todos := make([]summaryTodo, len(open))
	for i, t := range open {
		todos[i] = summaryTodo{Task: t.Task, DueDate: t.DueDate, Source: string(t.Source)}
	}
	todosJSON, err := json.MarshalIndent(todos, "", "  ")
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Generate a concise daily summary of todo activity.

Statistics:
- New todos added: %d
- Todos completed: %d
- Total open todos: %d
- Overdue todos: %d

Current open todos:
%s

Create a brief, actionable summary in markdown format with:
1. Key highlights (new, completed, overdue)
2. Top priority items
3. Any patterns or insights

Keep it concise (3-5 sentences max).`, stats.New, stats.Completed, stats.Open, stats.Overdue, todosJSON), nil
}
