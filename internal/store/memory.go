package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// MemoryTodoStore keeps todos in process. Used for dry runs and tests.
type MemoryTodoStore struct {
	mu       sync.Mutex
	todos    []models.PersistedTodo
	comments map[string][]string
	nextID   int
	now      func() time.Time
}

// NewMemoryTodoStore returns a store seeded with todos.
func NewMemoryTodoStore(seed ...models.PersistedTodo) *MemoryTodoStore {
	s := &MemoryTodoStore{comments: make(map[string][]string), now: time.Now}
	for _, t := range seed {
		if t.ID == "" {
			s.nextID++
			t.ID = fmt.Sprintf("mem-%d", s.nextID)
		}
		s.todos = append(s.todos, t)
	}
	return s
}

func (s *MemoryTodoStore) Query(ctx context.Context, filter Filter) ([]models.PersistedTodo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PersistedTodo
	for _, t := range s.todos {
		if filter.matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryTodoStore) Create(ctx context.Context, todo models.PersistedTodo) (models.PersistedTodo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	todo.ID = fmt.Sprintf("mem-%d", s.nextID)
	if todo.CreatedAt.IsZero() {
		todo.CreatedAt = s.now()
	}
	todo.LastEditedAt = todo.CreatedAt
	s.todos = append(s.todos, todo)
	return todo, nil
}

func (s *MemoryTodoStore) Update(ctx context.Context, id string, patch TodoPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.todos {
		if s.todos[i].ID != id {
			continue
		}
		if patch.Status != "" {
			s.todos[i].Status = patch.Status
		}
		if patch.Completed != "" {
			s.todos[i].Completed = patch.Completed
		}
		s.todos[i].LastEditedAt = s.now()
		return nil
	}
	return fmt.Errorf("todo %s: %w", id, ErrNotFound)
}

func (s *MemoryTodoStore) Comment(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[id] = append(s.comments[id], text)
	return nil
}

// Todos returns a snapshot of every stored todo.
func (s *MemoryTodoStore) Todos() []models.PersistedTodo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PersistedTodo(nil), s.todos...)
}

// Comments returns the comments posted on a todo.
func (s *MemoryTodoStore) Comments(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.comments[id]...)
}
