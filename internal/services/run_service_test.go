package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/collectors"
	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

var serviceNow = time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC)

type staticCollector struct{ items []models.ContentItem }

func (c staticCollector) Name() string { return "slack" }

func (c staticCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	return c.items, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
	digests  []*pipeline.Result
}

func (n *recordingNotifier) NotifyFailure(ctx context.Context, to, name string, runErr error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, to+"|"+name+"|"+runErr.Error())
	return nil
}

func (n *recordingNotifier) NotifyDigest(ctx context.Context, to, name string, result *pipeline.Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, result)
	return nil
}

type recordingRegistry struct {
	store.UserRegistry
	records []models.RunRecord
}

func (r *recordingRegistry) RecordRun(ctx context.Context, record models.RunRecord) error {
	r.records = append(r.records, record)
	return nil
}

type brokenStore struct{ *store.MemoryTodoStore }

func (brokenStore) Create(ctx context.Context, todo models.PersistedTodo) (models.PersistedTodo, error) {
	return models.PersistedTodo{}, errors.New("notion unavailable")
}

// scriptedModel answers each pipeline prompt with a fixed response.
func scriptedModel() *llm.StubModel {
	return &llm.StubModel{Respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Generate a concise daily summary"):
			return "One new todo.", nil
		case strings.Contains(prompt, "[SOURCE:0]"):
			return `[{"task": "Send the deck", "assigned_to": "Alice", "source_id": 0, "confidence": 0.9}]`, nil
		}
		return `[]`, nil
	}}
}

func newTestService(t *testing.T, todoStore store.TodoStore, opts ...RunServiceOption) *RunService {
	t.Helper()
	cfg := &config.Config{LookbackDays: 1, MaxTodoAgeDays: 7, CompletionThreshold: 0.85, MaxRetries: 1}
	base := []RunServiceOption{
		WithClock(func() time.Time { return serviceNow }),
		WithTodoStore(func(RunRequest, *logrus.Entry) store.TodoStore { return todoStore }),
		WithCollectors(func(context.Context, RunRequest, config.RunConfig, *logrus.Entry) []collectors.Collector {
			return []collectors.Collector{staticCollector{items: []models.ContentItem{{
				Text:     "@bob: Alice, can you send the deck?",
				Source:   models.SourceChat,
				Metadata: map[string]any{models.MetaTimestamp: serviceNow.Add(-time.Hour)},
			}}}}
		}),
	}
	return NewRunService(cfg, scriptedModel(), append(base, opts...)...)
}

func aliceRequest(trigger string) RunRequest {
	return RequestForUser(&models.User{
		Key: "alice", Name: "Alice", Email: "alice@example.com", NotionDatabaseID: "db-1",
	}, trigger)
}

func TestRunServiceSuccess(t *testing.T) {
	mem := store.NewMemoryTodoStore()
	notifier := &recordingNotifier{}
	registry := &recordingRegistry{}
	svc := newTestService(t, mem, WithNotifier(notifier), WithRegistry(registry))

	result, err := svc.Run(context.Background(), aliceRequest(TriggerSchedule))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Stats.Created)
	assert.Equal(t, "One new todo.", result.Summary)
	require.Len(t, mem.Todos(), 1)
	assert.Equal(t, "Send the deck", mem.Todos()[0].Task)

	require.Len(t, registry.records, 1)
	rec := registry.records[0]
	assert.Equal(t, models.RunStatusSuccess, rec.Status)
	assert.Equal(t, "alice", rec.UserKey)
	assert.Equal(t, TriggerSchedule, rec.Trigger)
	assert.Equal(t, result.RunID, rec.RunID)

	assert.Len(t, notifier.digests, 1, "scheduled runs send a digest")
	assert.Empty(t, notifier.failures)
}

func TestRunServiceFailureNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	registry := &recordingRegistry{}
	svc := newTestService(t, brokenStore{store.NewMemoryTodoStore()}, WithNotifier(notifier), WithRegistry(registry))

	_, err := svc.Run(context.Background(), aliceRequest(TriggerAPI))
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrPhaseFailed)

	require.Len(t, notifier.failures, 1)
	assert.True(t, strings.HasPrefix(notifier.failures[0], "alice@example.com|Alice|persisting phase failed"))
	assert.Empty(t, notifier.digests)

	require.Len(t, registry.records, 1)
	assert.Equal(t, models.RunStatusFailed, registry.records[0].Status)
	assert.Equal(t, string(pipeline.PhasePersisting), registry.records[0].FailedAt)
}

func TestRunServiceCLIRunsDoNotNotify(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := newTestService(t, brokenStore{store.NewMemoryTodoStore()}, WithNotifier(notifier))

	_, err := svc.Run(context.Background(), aliceRequest(TriggerCLI))
	require.Error(t, err)
	assert.Empty(t, notifier.failures)
}

func TestRunServiceRespectsRunLock(t *testing.T) {
	locker := NewLocalRunLocker()
	registry := &recordingRegistry{}
	svc := newTestService(t, store.NewMemoryTodoStore(), WithLocker(locker), WithRegistry(registry))

	release, err := locker.Acquire(context.Background(), "alice")
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), aliceRequest(TriggerPersonal))
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, registry.records)

	release()
	_, err = svc.Run(context.Background(), aliceRequest(TriggerPersonal))
	assert.NoError(t, err)
}

func TestRunServiceRejectsMissingDatabase(t *testing.T) {
	svc := newTestService(t, store.NewMemoryTodoStore())
	req := aliceRequest(TriggerAPI)
	req.Credentials.NotionDatabaseID = ""

	_, err := svc.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRunRequest)
}

func TestPlatformCollectorsFollowCredentials(t *testing.T) {
	cfg := &config.Config{GmailClientID: "id", GmailClientSecret: "secret", MaxRetries: 1}
	svc := NewRunService(cfg, llm.NewStubModel())
	rc := config.NewRunConfig(config.NewIdentity("Alice", "", ""), serviceNow)

	names := func(cs []collectors.Collector) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.Name())
		}
		return out
	}

	log := logrus.NewEntry(logrus.New())
	assert.Empty(t, svc.platformCollectors(context.Background(), RunRequest{}, rc, log))

	got := svc.platformCollectors(context.Background(), RunRequest{Credentials: Credentials{
		SlackToken: "xoxp-1", GmailRefreshToken: "refresh", NotionMeetingsDBID: "meetings",
	}}, rc, log)
	assert.Equal(t, []string{"slack", "gmail", "notion_meetings"}, names(got))

	cfg.ZoomAccountID, cfg.ZoomClientID, cfg.ZoomClientSecret = "acct", "zid", "zsecret"
	got = svc.platformCollectors(context.Background(), RunRequest{}, rc, log)
	assert.Equal(t, []string{"zoom"}, names(got))
}
