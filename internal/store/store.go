// Package store persists todos and the user registry.
package store

import (
	"context"
	"errors"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// ErrNotFound is returned when a todo or user does not exist.
var ErrNotFound = errors.New("not found")

// Filter selects todos. An empty filter matches everything.
type Filter struct {
	Statuses []models.Status
}

// OpenFilter matches Open and In Progress todos.
var OpenFilter = Filter{Statuses: []models.Status{models.StatusOpen, models.StatusInProgress}}

func (f Filter) matches(t models.PersistedTodo) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// TodoPatch lists the fields an update changes. Zero values are left alone.
type TodoPatch struct {
	Status    models.Status
	Completed string
}

// TodoStore is the persistent-notes store holding the todo list.
type TodoStore interface {
	Query(ctx context.Context, filter Filter) ([]models.PersistedTodo, error)
	Create(ctx context.Context, todo models.PersistedTodo) (models.PersistedTodo, error)
	Update(ctx context.Context, id string, patch TodoPatch) error
	Comment(ctx context.Context, id, text string) error
}

// OpenTodos returns todos whose status is Open or In Progress.
func OpenTodos(ctx context.Context, s TodoStore) ([]models.PersistedTodo, error) {
	return s.Query(ctx, OpenFilter)
}

// AllTodos returns every todo.
func AllTodos(ctx context.Context, s TodoStore) ([]models.PersistedTodo, error) {
	return s.Query(ctx, Filter{})
}
