package completion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

func bundleOf(texts ...string) *models.ContentBundle {
	b := &models.ContentBundle{}
	for _, text := range texts {
		b.Add(models.ContentItem{Text: text, Source: models.SourceChat})
	}
	return b
}

// judge answers like a model that follows the conservative instructions:
// only a first-person statement of delivery counts.
func judge(prompt string) (string, error) {
	_, content, _ := strings.Cut(prompt, "Recent content:")
	if strings.Contains(content, "Just sent the final doc over") {
		return `[{"todo_id": "todo-doc", "is_completed": true, "confidence": 0.95, "evidence": "Just sent the final doc over"}]`, nil
	}
	return `[]`, nil
}

func TestDetectIsConservative(t *testing.T) {
	open := []models.PersistedTodo{{ID: "todo-doc", Task: "Send the final doc to Dana", Status: models.StatusOpen}}

	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"acknowledgement only", "@dana: Thanks for the update, I'll wait to hear back", 0},
		{"delivery statement", "@alice: Just sent the final doc over", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &llm.StubModel{Respond: judge}
			signals, err := NewEngine(stub, logging.Discard()).Detect(context.Background(), open, bundleOf(tt.content))
			require.NoError(t, err)
			assert.Len(t, signals, tt.want)

			prompt := stub.Prompts()[0]
			assert.Contains(t, prompt, "**BE CONSERVATIVE.**")
			assert.Contains(t, prompt, `"id": "todo-doc"`)
			assert.Contains(t, prompt, "=== CHAT ===\n"+tt.content)
		})
	}
}

func TestDetectKeepsLowConfidenceSignals(t *testing.T) {
	open := []models.PersistedTodo{{ID: "a", Task: "A"}, {ID: "b", Task: "B"}}
	stub := llm.NewStubModel(`[
	  {"todo_id": "a", "is_completed": true, "confidence": 0.92, "evidence": "  Done!  "},
	  {"todo_id": "b", "is_completed": true, "confidence": 0.6, "evidence": "think I sent it"},
	  {"todo_id": "b", "is_completed": true, "confidence": 0.99, "evidence": "repeat"},
	  {"todo_id": "c", "is_completed": true, "confidence": 0.99, "evidence": "not open"},
	  {"todo_id": "a", "is_completed": false, "confidence": 0.99}
	]`)

	signals, err := NewEngine(stub, logging.Discard()).Detect(context.Background(), open, bundleOf("content"))
	require.NoError(t, err)
	require.Len(t, signals, 2)

	assert.Equal(t, models.CompletionSignal{TodoID: "a", Confidence: 0.92, Evidence: "Done!"}, signals[0])
	assert.Equal(t, models.StatusDone, signals[0].StatusFor(0.85))
	assert.Equal(t, "b", signals[1].TodoID)
	assert.Equal(t, models.StatusNeedsReview, signals[1].StatusFor(0.85))
}

func TestDetectShortCircuits(t *testing.T) {
	stub := llm.NewStubModel()
	engine := NewEngine(stub, logging.Discard())

	signals, err := engine.Detect(context.Background(), nil, bundleOf("Just sent it"))
	require.NoError(t, err)
	assert.Empty(t, signals)

	signals, err = engine.Detect(context.Background(), []models.PersistedTodo{{ID: "a"}}, bundleOf())
	require.NoError(t, err)
	assert.Empty(t, signals)

	assert.Zero(t, stub.Calls())
}

func TestDetectMalformedAndFailedCalls(t *testing.T) {
	open := []models.PersistedTodo{{ID: "a", Task: "A"}}

	signals, err := NewEngine(llm.NewStubModel("No completions."), logging.Discard()).Detect(context.Background(), open, bundleOf("x"))
	require.NoError(t, err)
	assert.Empty(t, signals)

	_, err = NewEngine(&llm.StubModel{Err: errors.New("boom")}, logging.Discard()).Detect(context.Background(), open, bundleOf("x"))
	assert.ErrorContains(t, err, "boom")
}
