package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/claysader-arch/todo-aggregator/internal/collectors"
	"github.com/claysader-arch/todo-aggregator/internal/completion"
	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/dedup"
	"github.com/claysader-arch/todo-aggregator/internal/extraction"
	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/notion"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

// What started a run.
const (
	TriggerAPI      = "api"
	TriggerPersonal = "personal"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// ErrInvalidRunRequest is returned before any work when a request cannot run.
var ErrInvalidRunRequest = errors.New("invalid run request")

// Notifier delivers run outcomes to the user.
type Notifier interface {
	NotifyFailure(ctx context.Context, to, name string, runErr error) error
	NotifyDigest(ctx context.Context, to, name string, result *pipeline.Result) error
}

// Credentials are the per-user platform secrets of one run.
type Credentials struct {
	SlackToken         string
	GmailRefreshToken  string
	NotionDatabaseID   string
	NotionMeetingsDBID string
}

// RunRequest describes one pipeline run.
type RunRequest struct {
	Trigger         string
	UserKey         string
	Identity        config.Identity
	Credentials     Credentials
	NotifyOnFailure bool
	SendDigest      bool
	Options         []config.RunOption
}

// RequestForUser builds the request for a registered user.
func RequestForUser(u *models.User, trigger string) RunRequest {
	return RunRequest{
		Trigger:  trigger,
		UserKey:  u.Key,
		Identity: config.UserIdentity(u),
		Credentials: Credentials{
			SlackToken:         u.SlackToken,
			GmailRefreshToken:  u.GmailRefreshToken,
			NotionDatabaseID:   u.NotionDatabaseID,
			NotionMeetingsDBID: u.NotionMeetingsDBID,
		},
		NotifyOnFailure: trigger != TriggerCLI,
		SendDigest:      trigger == TriggerSchedule,
	}
}

type (
	storeFactory      func(req RunRequest, log *logrus.Entry) store.TodoStore
	collectorsFactory func(ctx context.Context, req RunRequest, rc config.RunConfig, log *logrus.Entry) []collectors.Collector
)

// RunService wires collectors, engines and the todo store for one user and
// runs the pipeline under that user's run lock.
type RunService struct {
	cfg           *config.Config
	model         llm.Model
	registry      store.UserRegistry
	locker        RunLocker
	notifier      Notifier
	metrics       *pipeline.Metrics
	now           func() time.Time
	storeFor      storeFactory
	collectorsFor collectorsFactory
}

// RunServiceOption configures a RunService.
type RunServiceOption func(*RunService)

// WithRegistry records run history and last-run status.
func WithRegistry(r store.UserRegistry) RunServiceOption {
	return func(s *RunService) { s.registry = r }
}

func WithLocker(l RunLocker) RunServiceOption {
	return func(s *RunService) { s.locker = l }
}

func WithNotifier(n Notifier) RunServiceOption {
	return func(s *RunService) { s.notifier = n }
}

func WithMetrics(m *pipeline.Metrics) RunServiceOption {
	return func(s *RunService) { s.metrics = m }
}

// WithClock fixes the run timestamp source.
func WithClock(now func() time.Time) RunServiceOption {
	return func(s *RunService) { s.now = now }
}

// WithTodoStore replaces the Notion todo store, e.g. with an in-memory one
// for dry runs.
func WithTodoStore(fn func(req RunRequest, log *logrus.Entry) store.TodoStore) RunServiceOption {
	return func(s *RunService) { s.storeFor = fn }
}

// WithCollectors replaces the platform collectors.
func WithCollectors(fn func(ctx context.Context, req RunRequest, rc config.RunConfig, log *logrus.Entry) []collectors.Collector) RunServiceOption {
	return func(s *RunService) { s.collectorsFor = fn }
}

func NewRunService(cfg *config.Config, model llm.Model, opts ...RunServiceOption) *RunService {
	s := &RunService{
		cfg:    cfg,
		model:  model,
		locker: NewLocalRunLocker(),
		now:    time.Now,
	}
	s.storeFor = s.notionStore
	s.collectorsFor = s.platformCollectors
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the pipeline for one request. Failures are recorded, and
// notified when the request asks for it, before being returned.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*pipeline.Result, error) {
	if req.Credentials.NotionDatabaseID == "" {
		return nil, fmt.Errorf("%w: notion database id is required", ErrInvalidRunRequest)
	}
	if req.UserKey == "" {
		req.UserKey = req.Identity.PrimaryName()
	}

	runID := uuid.NewString()
	log := logging.WithRun(runID, req.UserKey).WithField("trigger", req.Trigger)

	release, err := s.locker.Acquire(ctx, req.UserKey)
	if err != nil {
		log.WithError(err).Warn("run not started")
		return nil, err
	}
	defer release()

	startedAt := s.now()
	rc := s.cfg.RunConfigFor(req.Identity, startedAt, req.Options...)

	orchestrator := pipeline.New(rc, pipeline.Deps{
		RunID:      runID,
		Collectors: s.collectorsFor(ctx, req, rc, log),
		Extractor:  extraction.NewEngine(s.model, rc, log),
		Dedup:      dedup.NewEngine(s.model, log),
		Completion: completion.NewEngine(s.model, log),
		Store:      s.storeFor(req, log),
		Summarizer: pipeline.NewSummarizer(s.model, log),
		Metrics:    s.metrics,
		Log:        log,
	})

	result, runErr := orchestrator.Run(ctx)
	s.record(ctx, log, req, runID, startedAt, result, runErr)

	identity := req.Identity
	switch {
	case runErr != nil && req.NotifyOnFailure && s.notifier != nil:
		if err := s.notifier.NotifyFailure(ctx, identity.Email(), identity.PrimaryName(), runErr); err != nil {
			log.WithError(err).Error("could not send failure notification")
		}
	case runErr == nil && req.SendDigest && s.notifier != nil:
		if err := s.notifier.NotifyDigest(ctx, identity.Email(), identity.PrimaryName(), result); err != nil {
			log.WithError(err).Warn("could not send run digest")
		}
	}
	return result, runErr
}

func (s *RunService) record(ctx context.Context, log *logrus.Entry, req RunRequest, runID string, startedAt time.Time, result *pipeline.Result, runErr error) {
	if s.registry == nil {
		return
	}
	record := models.RunRecord{
		RunID:      runID,
		UserKey:    req.UserKey,
		Trigger:    req.Trigger,
		Status:     models.RunStatusSuccess,
		StartedAt:  startedAt,
		FinishedAt: s.now(),
	}
	if result != nil {
		record.Stats = result.Stats
	}
	if runErr != nil {
		record.Status = models.RunStatusFailed
		record.Error = runErr.Error()
		record.FailedAt = string(pipeline.FailedPhase(runErr))
	}
	if err := s.registry.RecordRun(ctx, record); err != nil {
		log.WithError(err).Warn("could not record run history")
	}
}

func (s *RunService) policy() retry.Policy {
	return retry.DefaultPolicy(s.cfg.MaxRetries)
}

func (s *RunService) notionClient(log *logrus.Entry) *notion.Client {
	return notion.NewClient(s.cfg.NotionAPIKey, s.cfg.NotionBaseURL, s.policy(), log)
}

func (s *RunService) notionStore(req RunRequest, log *logrus.Entry) store.TodoStore {
	return store.NewNotionTodoStore(s.notionClient(log), req.Credentials.NotionDatabaseID, store.DefaultPropertyNames, log)
}

// platformCollectors enables each collector whose credentials are present.
func (s *RunService) platformCollectors(ctx context.Context, req RunRequest, rc config.RunConfig, log *logrus.Entry) []collectors.Collector {
	var out []collectors.Collector
	creds := req.Credentials

	if creds.SlackToken != "" {
		client := collectors.NewSlackClient(creds.SlackToken, s.cfg.SlackBaseURL, s.policy(), log)
		out = append(out, collectors.NewSlackCollector(client, rc, log))
	}
	if creds.GmailRefreshToken != "" && s.cfg.GmailConfigured() {
		httpClient := collectors.GmailHTTPClient(ctx, s.cfg.GmailClientID, s.cfg.GmailClientSecret, creds.GmailRefreshToken, s.cfg.GmailTokenURL)
		out = append(out, collectors.NewGmailCollector(collectors.NewGmailClient(httpClient, s.cfg.GmailBaseURL, s.policy()), rc, log))
	}
	if s.cfg.ZoomConfigured() {
		httpClient := collectors.ZoomHTTPClient(ctx, s.cfg.ZoomAccountID, s.cfg.ZoomClientID, s.cfg.ZoomClientSecret, s.cfg.ZoomTokenURL)
		out = append(out, collectors.NewZoomCollector(collectors.NewZoomClient(httpClient, s.cfg.ZoomBaseURL, s.policy()), rc, log))
	}
	if creds.NotionMeetingsDBID != "" {
		out = append(out, collectors.NewNotionMeetingsCollector(s.notionClient(log), creds.NotionMeetingsDBID, rc, log))
	}

	if len(out) == 0 {
		log.Warn("no collectors configured for this user")
	}
	return out
}
