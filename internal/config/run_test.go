package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	id := NewIdentity("Alice, A. Smith", "alice@example.com", "@alice")

	assert.Equal(t, []string{"alice", "a. smith"}, id.Names())
	assert.Equal(t, "Alice", id.PrimaryName())
	assert.Equal(t, "alice", id.SlackUsername())
	assert.Equal(t, "alice@example.com", id.Email())

	empty := NewIdentity("", "", "")
	assert.Equal(t, "the user", empty.PrimaryName())
	assert.Equal(t, "the user", empty.SlackUsername())
}

func TestRunConfigDefaultsAndCopies(t *testing.T) {
	now := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	rc := NewRunConfig(NewIdentity("Alice", "", ""), now)

	assert.Equal(t, 1, rc.LookbackDays())
	assert.Equal(t, 7, rc.MaxTodoAgeDays())
	assert.InDelta(t, 0.85, rc.CompletionThreshold(), 1e-9)
	assert.Equal(t, "2024-05-10", rc.Today())
	assert.Equal(t, now.Add(-24*time.Hour), rc.Cutoff())

	senders := rc.MeetingSenders()
	require.NotEmpty(t, senders)
	senders[0] = "mutated"
	assert.NotEqual(t, "mutated", rc.MeetingSenders()[0], "callers must not be able to mutate the run config")
}

func TestRunConfigFor(t *testing.T) {
	cfg := &Config{
		LookbackDays:        3,
		MaxTodoAgeDays:      14,
		CompletionThreshold: 0.9,
		GmailQuery:          "label:work",
		MeetingSenders:      []string{"Bot@Zoom.us "},
		SearchPageLimit:     2,
		ThreadProbeLimit:    5,
		GmailMaxResults:     10,
	}
	rc := cfg.RunConfigFor(NewIdentity("Bob", "", ""), time.Now(), WithLookbackDays(5))

	assert.Equal(t, 5, rc.LookbackDays(), "explicit options win over server config")
	assert.Equal(t, 14, rc.MaxTodoAgeDays())
	assert.Equal(t, "label:work", rc.GmailQuery())
	assert.Equal(t, []string{"bot@zoom.us"}, rc.MeetingSenders())
	assert.Equal(t, Limits{SearchPages: 2, ThreadProbes: 5, GmailMaxResults: 10}, rc.Limits())
}

func TestValidate(t *testing.T) {
	cfg := &Config{CompletionThreshold: 0.85}
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrMissingCredential)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
	assert.Contains(t, err.Error(), "NOTION_API_KEY")

	cfg.AnthropicAPIKey = "sk"
	cfg.NotionAPIKey = "secret"
	assert.NoError(t, cfg.Validate())

	cfg.CompletionThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LOOKBACK_DAYS", "2")
	t.Setenv("COMPLETION_THRESHOLD", "0.7")
	t.Setenv("ENABLE_CATEGORY_TAGGING", "false")
	t.Setenv("MEETING_EMAIL_SENDERS", "a@x.com, B@Y.com")

	cfg := Load()
	assert.Equal(t, 2, cfg.LookbackDays)
	assert.InDelta(t, 0.7, cfg.CompletionThreshold, 1e-9)
	assert.False(t, cfg.EnableCategoryTagging)
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, cfg.MeetingSenders)
}
