package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

const usersYAML = `users:
  - key: alice
    name: "Alice, A. Smith"
    email: alice@example.com
    slack_username: alice
    notion_database_id: db-alice
    slack_token: xoxp-alice
    enabled: true
  - key: bob
    name: Bob
    notion_database_id: db-bob
    enabled: false
`

func writeUsers(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileUserRegistryLoads(t *testing.T) {
	path := writeUsers(t, t.TempDir(), usersYAML)
	reg, err := NewFileUserRegistry(path, logging.Discard())
	require.NoError(t, err)

	enabled, err := reg.EnabledUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "alice", enabled[0].Key)
	assert.Equal(t, "xoxp-alice", enabled[0].SlackToken)
	assert.Equal(t, []string{"alice", "a. smith"}, enabled[0].NameVariants())

	bob, err := reg.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "db-bob", bob.NotionDatabaseID)

	_, err = reg.GetUser(context.Background(), "carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileUserRegistryRejectsDuplicateKeys(t *testing.T) {
	path := writeUsers(t, t.TempDir(), "users:\n  - key: a\n  - key: a\n")
	_, err := NewFileUserRegistry(path, logging.Discard())
	assert.Error(t, err)
}

func TestFileUserRegistryRecordRun(t *testing.T) {
	path := writeUsers(t, t.TempDir(), usersYAML)
	reg, err := NewFileUserRegistry(path, logging.Discard())
	require.NoError(t, err)

	finished := time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC)
	require.NoError(t, reg.RecordRun(context.Background(), models.RunRecord{
		UserKey: "alice", Status: models.RunStatusFailed, Error: "token expired", FinishedAt: finished,
	}))

	alice, _ := reg.GetUser(context.Background(), "alice")
	assert.Equal(t, models.RunStatusFailed, alice.LastRunStatus)
	assert.Equal(t, "token expired", alice.LastRunError)
	assert.Len(t, reg.Runs(), 1)
}

func TestFileUserRegistryWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeUsers(t, dir, usersYAML)
	reg, err := NewFileUserRegistry(path, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, reg.Watch(ctx))

	writeUsers(t, dir, "users:\n  - key: carol\n    name: Carol\n    enabled: true\n")

	require.Eventually(t, func() bool {
		users, _ := reg.EnabledUsers(context.Background())
		return len(users) == 1 && users[0].Key == "carol"
	}, 3*time.Second, 50*time.Millisecond)
}
