package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

func TestDeduplicateWithoutExistingSkipsModel(t *testing.T) {
	stub := llm.NewStubModel()
	candidates := []models.CandidateTodo{{Task: "Finish the report", AssignedTo: "Alice"}, {Task: "Call Bob"}}

	got := NewEngine(stub, logging.Discard()).Deduplicate(context.Background(), candidates, nil)

	require.Len(t, got, 2)
	assert.Zero(t, stub.Calls())
	assert.Equal(t, models.DedupeHash("Finish the report", "Alice"), got[0].DedupeHash)
	assert.Equal(t, models.DedupeHash("Call Bob", ""), got[1].DedupeHash)
	assert.Empty(t, candidates[0].DedupeHash, "input is not mutated")
}

func TestDeduplicateMarksRewordedTaskAsUpdate(t *testing.T) {
	existing := []models.PersistedTodo{
		{ID: "page-q4", Task: "Send Q4 report to finance", Source: models.SourceEmail},
		{ID: "page-other", Task: "Book offsite venue"},
	}
	candidates := []models.CandidateTodo{
		{Task: "send the Q4 report over to finance team", AssignedTo: "Alice"},
		{Task: "Review hiring plan"},
	}
	stub := llm.NewStubModel("```json\n" + `[
	  {"new_todo_id": 0, "is_duplicate": true, "existing_todo_id": "page-q4", "confidence": 0.93, "reasoning": "same deliverable"},
	  {"new_todo_id": 1, "is_duplicate": false, "existing_todo_id": null, "confidence": 0.1, "reasoning": "different"}
	]` + "\n```")

	got := NewEngine(stub, logging.Discard()).Deduplicate(context.Background(), candidates, existing)

	require.Len(t, got, 2)
	assert.True(t, got[0].IsDuplicate())
	assert.Equal(t, "page-q4", got[0].UpdateID)
	assert.Equal(t, 0.93, got[0].MergeConfidence)
	assert.Empty(t, got[0].DedupeHash)
	assert.Equal(t, "send the Q4 report over to finance team", got[0].Task, "duplicates keep their extracted fields")

	assert.False(t, got[1].IsDuplicate())
	assert.Equal(t, models.DedupeHash("Review hiring plan", ""), got[1].DedupeHash)

	require.Equal(t, 1, stub.Calls())
	prompt := stub.Prompts()[0]
	assert.Contains(t, prompt, `"task": "send the Q4 report over to finance team"`)
	assert.Contains(t, prompt, `"id": "page-q4"`)
	assert.Contains(t, prompt, `"assigned_to": null`)
}

func TestDeduplicateFailsOpen(t *testing.T) {
	existing := []models.PersistedTodo{{ID: "p1", Task: "Send deck"}}
	candidates := []models.CandidateTodo{{Task: "Send the deck"}, {Task: "Plan retro"}}

	tests := []struct {
		name  string
		model *llm.StubModel
	}{
		{"model error", &llm.StubModel{Err: errors.New("timeout")}},
		{"malformed", llm.NewStubModel("Both look like duplicates to me.")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEngine(tt.model, logging.Discard()).Deduplicate(context.Background(), candidates, existing)
			require.Len(t, got, 2)
			for _, c := range got {
				assert.False(t, c.IsDuplicate())
				assert.Equal(t, models.DedupeHash(c.Task, c.AssignedTo), c.DedupeHash)
			}
		})
	}
}

func TestDeduplicateIgnoresBogusVerdicts(t *testing.T) {
	existing := []models.PersistedTodo{{ID: "p1", Task: "Send deck"}}
	candidates := []models.CandidateTodo{{Task: "Send the deck"}, {Task: "Plan retro"}}
	stub := llm.NewStubModel(`[
	  {"new_todo_id": 7, "is_duplicate": true, "existing_todo_id": "p1"},
	  {"new_todo_id": 1, "is_duplicate": true, "existing_todo_id": "made-up"},
	  {"new_todo_id": "0", "is_duplicate": true, "existing_todo_id": "p1"}
	]`)

	got := NewEngine(stub, logging.Discard()).Deduplicate(context.Background(), candidates, existing)
	for _, c := range got {
		assert.False(t, c.IsDuplicate(), c.Task)
		assert.NotEmpty(t, c.DedupeHash)
	}
}

func TestDeduplicateEmptyCandidates(t *testing.T) {
	stub := llm.NewStubModel()
	assert.Empty(t, NewEngine(stub, logging.Discard()).Deduplicate(context.Background(), nil, []models.PersistedTodo{{ID: "x"}}))
	assert.Zero(t, stub.Calls())
}

func TestBuildPromptListsSources(t *testing.T) {
	prompt, err := buildPrompt(nil, []models.PersistedTodo{{ID: "p", Task: "t", Source: models.SourceChat}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "\"sources\": [\n      \"chat\"\n    ]")
	assert.Contains(t, prompt, "New todos:\n[]")
}
