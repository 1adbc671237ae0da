package pipeline

import (
	"strings"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// FilterOwnership keeps todos that are unassigned or whose assignee contains
// one of the user's name variants (case-insensitive). With no variants
// configured every todo is kept.
func FilterOwnership(todos []models.CandidateTodo, nameVariants []string) []models.CandidateTodo {
	var names []string
	for _, n := range nameVariants {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return todos
	}

	kept := make([]models.CandidateTodo, 0, len(todos))
	for _, todo := range todos {
		assignee := strings.ToLower(strings.TrimSpace(todo.AssignedTo))
		if assignee == "" || containsAny(assignee, names) {
			kept = append(kept, todo)
		}
	}
	return kept
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
