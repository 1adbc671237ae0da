package llm

import (
	"context"
	"sync"
)

// StubModel is a scripted Model for tests. Responses are returned in order;
// once exhausted the last one repeats. Err, when set, is returned instead.
type StubModel struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Respond   func(prompt string) (string, error)
	prompts   []string
}

// NewStubModel returns a stub that answers with the given responses in order.
func NewStubModel(responses ...string) *StubModel {
	return &StubModel{Responses: responses}
}

// Complete records the prompt and returns the next scripted answer.
func (s *StubModel) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	if s.Respond != nil {
		return s.Respond(prompt)
	}
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Responses) == 0 {
		return "[]", nil
	}
	idx := len(s.prompts) - 1
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	return s.Responses[idx], nil
}

// Calls returns how many times Complete was invoked.
func (s *StubModel) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns a copy of every prompt received.
func (s *StubModel) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
