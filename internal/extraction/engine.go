// Package extraction turns collected content into candidate todos with a
// single language model call, then normalizes and filters the result locally.
package extraction

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// Engine extracts candidate todos for the run's user.
type Engine struct {
	model llm.Model
	cfg   config.RunConfig
	log   *logrus.Entry
}

func NewEngine(model llm.Model, cfg config.RunConfig, log *logrus.Entry) *Engine {
	return &Engine{model: model, cfg: cfg, log: log.WithField("component", "extraction")}
}

// Extract returns the candidates found in bundle. Malformed model output
// yields an empty list; a failed model call is returned as an error.
func (e *Engine) Extract(ctx context.Context, bundle *models.ContentBundle) ([]models.CandidateTodo, error) {
	content, refs := RenderContent(bundle)
	if len(refs) == 0 {
		e.log.Info("no content to extract from")
		return nil, nil
	}

	raw, err := e.model.Complete(ctx, buildPrompt(e.cfg, content))
	if err != nil {
		return nil, fmt.Errorf("extraction model call: %w", err)
	}

	todos, err := ParseCandidates(raw)
	if err != nil {
		e.log.WithError(err).WithField("raw_response", logging.Truncate(raw, 1000)).Error("could not parse extraction response")
		return nil, nil
	}

	mapped := MapSourceURLs(todos, refs)
	kept := FilterByAge(todos, refs, e.cfg.Now(), e.cfg.MaxTodoAgeDays())

	e.log.WithFields(logrus.Fields{
		"sources":    len(refs),
		"candidates": len(todos),
		"with_url":   mapped,
		"stale":      len(todos) - len(kept),
	}).Info("extraction complete")
	return kept, nil
}

// ParseCandidates reads the model's JSON array. Elements that are not objects
// or lack a task are skipped.
func ParseCandidates(raw string) ([]models.CandidateTodo, error) {
	payload, err := llm.ExtractJSONArray(raw)
	if err != nil {
		return nil, err
	}
	var todos []models.CandidateTodo
	for _, item := range gjson.Parse(payload).Array() {
		if todo, ok := parseCandidate(item); ok {
			todos = append(todos, todo)
		}
	}
	return todos, nil
}

func lookup(refs []SourceRef, todo models.CandidateTodo) (SourceRef, bool) {
	if !todo.HasSourceID || todo.SourceID < 0 || todo.SourceID >= len(refs) {
		return SourceRef{}, false
	}
	return refs[todo.SourceID], true
}

// MapSourceURLs attaches the URL and platform of the referenced content item
// to each todo in place. Todos without a resolvable source_id keep no URL.
// It returns how many todos received a URL.
func MapSourceURLs(todos []models.CandidateTodo, refs []SourceRef) int {
	mapped := 0
	for i := range todos {
		ref, ok := lookup(refs, todos[i])
		if !ok {
			todos[i].SourceURL = ""
			continue
		}
		todos[i].Source = ref.Source
		todos[i].SourceURL = ref.URL
		if ref.URL != "" {
			mapped++
		}
	}
	return mapped
}

// FilterByAge drops todos whose source item is older than maxAgeDays before
// now. Todos without a resolvable source or timestamp are kept, as is every
// todo when maxAgeDays is not positive.
func FilterByAge(todos []models.CandidateTodo, refs []SourceRef, now time.Time, maxAgeDays int) []models.CandidateTodo {
	if maxAgeDays <= 0 {
		return todos
	}
	cutoff := now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	kept := make([]models.CandidateTodo, 0, len(todos))
	for _, todo := range todos {
		ref, ok := lookup(refs, todo)
		if ok && ref.HasTimestamp && ref.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, todo)
	}
	return kept
}
