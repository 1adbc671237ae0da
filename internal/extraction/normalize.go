package extraction

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// NormalizePriority lower-cases p and forces anything outside the vocabulary
// to medium.
func NormalizePriority(p string) models.Priority {
	switch models.Priority(strings.ToLower(strings.TrimSpace(p))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityLow:
		return models.PriorityLow
	}
	return models.PriorityMedium
}

// NormalizeCategories lower-cases tags, drops unknown ones and repeats.
func NormalizeCategories(tags []string) []models.Category {
	out := []models.Category{}
	seen := map[models.Category]bool{}
	for _, tag := range tags {
		c := models.Category(strings.ToLower(strings.TrimSpace(tag)))
		if !c.IsValid() || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// NormalizeDueDate returns d when it is a valid YYYY-MM-DD date and "" otherwise.
func NormalizeDueDate(d string) string {
	d = strings.TrimSpace(d)
	if _, err := time.Parse(models.DueDateLayout, d); err != nil {
		return ""
	}
	return d
}

func normalizeType(t string) models.TodoType {
	if models.TodoType(strings.ToLower(strings.TrimSpace(t))) == models.TodoImplicit {
		return models.TodoImplicit
	}
	return models.TodoExplicit
}

// nullableString treats JSON null and the literal strings "null"/"none" as empty.
func nullableString(v gjson.Result) string {
	if v.Type != gjson.String {
		return ""
	}
	s := strings.TrimSpace(v.String())
	switch strings.ToLower(s) {
	case "null", "none", "n/a":
		return ""
	}
	return s
}

func categoryTags(v gjson.Result) []string {
	switch {
	case v.IsArray():
		var tags []string
		for _, item := range v.Array() {
			if item.Type == gjson.String {
				tags = append(tags, item.String())
			}
		}
		return tags
	case v.Type == gjson.String && v.String() != "":
		return []string{v.String()}
	}
	return nil
}

func sourceID(v gjson.Result) (int, bool) {
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), true
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.String()))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func clampConfidence(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// parseCandidate reads one element of the model's JSON array. Elements
// without a task are rejected.
func parseCandidate(item gjson.Result) (models.CandidateTodo, bool) {
	if !item.IsObject() {
		return models.CandidateTodo{}, false
	}
	task := nullableString(item.Get("task"))
	if task == "" {
		return models.CandidateTodo{}, false
	}

	priority := ""
	if p := item.Get("priority"); p.Type == gjson.String {
		priority = p.String()
	}

	todo := models.CandidateTodo{
		Task:          task,
		AssignedTo:    nullableString(item.Get("assigned_to")),
		DueDate:       NormalizeDueDate(nullableString(item.Get("due_date"))),
		Priority:      NormalizePriority(priority),
		Category:      NormalizeCategories(categoryTags(item.Get("category"))),
		Source:        models.ParseSource(item.Get("source").String()),
		SourceContext: nullableString(item.Get("source_context")),
		Confidence:    clampConfidence(item.Get("confidence").Float()),
		Type:          normalizeType(item.Get("type").String()),
	}
	todo.SourceID, todo.HasSourceID = sourceID(item.Get("source_id"))
	return todo, true
}
