// Package pipeline runs one aggregation: collect, extract, filter, dedup,
// detect completions, persist and summarize.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/claysader-arch/todo-aggregator/internal/collectors"
	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

// Extractor turns collected content into candidate todos.
type Extractor interface {
	Extract(ctx context.Context, bundle *models.ContentBundle) ([]models.CandidateTodo, error)
}

// Deduplicator marks candidates that restate existing todos. It never fails.
type Deduplicator interface {
	Deduplicate(ctx context.Context, candidates []models.CandidateTodo, existing []models.PersistedTodo) []models.CandidateTodo
}

// CompletionDetector finds open todos the content shows as finished.
type CompletionDetector interface {
	Detect(ctx context.Context, open []models.PersistedTodo, bundle *models.ContentBundle) ([]models.CompletionSignal, error)
}

const (
	provenanceLimit = 500
	evidenceLimit   = 200
)

// Deps are the collaborators of one run.
type Deps struct {
	RunID      string
	Collectors []collectors.Collector
	Extractor  Extractor
	Dedup      Deduplicator
	Completion CompletionDetector
	Store      store.TodoStore
	Summarizer *Summarizer // nil skips the summary
	Metrics    *Metrics    // nil records nothing
	Log        *logrus.Entry
}

// Result describes a finished or failed run.
type Result struct {
	RunID        string
	Phase        Phase
	Stats        models.RunStats
	Summary      string
	Timings      map[Phase]time.Duration
	SourceCounts map[string]int
	SourceErrors map[string]string
	Created      []models.PersistedTodo
}

// Orchestrator drives the phase state machine for one user and one run.
type Orchestrator struct {
	cfg  config.RunConfig
	deps Deps
	log  *logrus.Entry
}

func New(cfg config.RunConfig, deps Deps) *Orchestrator {
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	log := deps.Log
	if log == nil {
		log = logging.WithRun(deps.RunID, "")
	} else {
		log = log.WithField("run_id", deps.RunID)
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: log}
}

// RunID identifies the run in logs and history.
func (o *Orchestrator) RunID() string { return o.deps.RunID }

type runState struct {
	result    *Result
	bundle    *models.ContentBundle
	todos     []models.CandidateTodo
	open      []models.PersistedTodo
	signals   []models.CompletionSignal
	startedAt time.Time
}

// Run executes every phase in order. When a phase fails the returned error is
// a *PhaseError and the result carries the stats gathered so far.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	st := &runState{
		result: &Result{
			RunID:        o.deps.RunID,
			Timings:      make(map[Phase]time.Duration),
			SourceCounts: make(map[string]int),
			SourceErrors: make(map[string]string),
		},
		bundle:    &models.ContentBundle{},
		startedAt: time.Now(),
	}

	o.log.WithField("user", o.cfg.Identity().PrimaryName()).Info("starting run")

	steps := []struct {
		phase Phase
		fn    func(context.Context, *runState, *logrus.Entry) error
	}{
		{PhaseCollecting, o.collect},
		{PhaseExtracting, o.extract},
		{PhaseFiltering, o.filter},
		{PhaseDeduplicating, o.deduplicate},
		{PhaseDetectingCompletions, o.detectCompletions},
		{PhasePersisting, o.persist},
		{PhaseSummarizing, o.summarize},
	}

	for _, step := range steps {
		st.result.Phase = step.phase
		log := logging.WithPhase(o.log, string(step.phase))

		start := time.Now()
		err := step.fn(ctx, st, log)
		elapsed := time.Since(start)
		st.result.Timings[step.phase] = elapsed
		o.deps.Metrics.RecordPhase(step.phase, elapsed)

		if err != nil {
			st.result.Phase = PhaseFailed
			st.result.Stats.Duration = time.Since(st.startedAt)
			o.deps.Metrics.RecordRun(PhaseFailed)
			log.WithError(err).Error("run failed")
			return st.result, &PhaseError{Phase: step.phase, Err: err}
		}
		log.WithField("duration_ms", elapsed.Milliseconds()).Debug("phase complete")
	}

	st.result.Phase = PhaseDone
	st.result.Stats.Duration = time.Since(st.startedAt)
	o.deps.Metrics.RecordRun(PhaseDone)
	o.log.WithFields(logrus.Fields{
		"created":   st.result.Stats.Created,
		"skipped":   st.result.Stats.Skipped,
		"completed": st.result.Stats.Completed,
		"duration":  st.result.Stats.DurationSeconds(),
	}).Info("run complete")
	return st.result, nil
}

// collect runs every collector concurrently. A failing collector contributes
// nothing; the others are unaffected. Items keep collector order.
func (o *Orchestrator) collect(ctx context.Context, st *runState, log *logrus.Entry) error {
	results := make([][]models.ContentItem, len(o.deps.Collectors))
	errs := make([]error, len(o.deps.Collectors))

	var g errgroup.Group
	for i, c := range o.deps.Collectors {
		g.Go(func() error {
			items, err := c.Collect(ctx)
			results[i], errs[i] = items, err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	for i, c := range o.deps.Collectors {
		name := c.Name()
		o.deps.Metrics.RecordCollected(name, len(results[i]), errs[i])
		if errs[i] != nil {
			st.result.SourceErrors[name] = errs[i].Error()
			log.WithError(errs[i]).WithField("collector", name).Warn("collector failed, continuing without it")
			continue
		}
		st.result.SourceCounts[name] += len(results[i])
		st.bundle.Add(results[i]...)
	}

	st.result.Stats.Collected = st.bundle.Len()
	log.WithFields(logrus.Fields{"items": st.bundle.Len(), "sources": st.result.SourceCounts}).Info("collection complete")
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, st *runState, log *logrus.Entry) error {
	todos, err := o.deps.Extractor.Extract(ctx, st.bundle)
	if err != nil {
		return err
	}
	st.todos = todos
	st.result.Stats.Extracted = len(todos)
	return nil
}

func (o *Orchestrator) filter(ctx context.Context, st *runState, log *logrus.Entry) error {
	before := len(st.todos)
	st.todos = FilterOwnership(st.todos, o.cfg.Identity().Names())
	log.WithFields(logrus.Fields{"kept": len(st.todos), "dropped": before - len(st.todos)}).Info("ownership filter applied")
	return nil
}

func (o *Orchestrator) deduplicate(ctx context.Context, st *runState, log *logrus.Entry) error {
	if len(st.todos) == 0 {
		return nil
	}
	existing, err := store.AllTodos(ctx, o.deps.Store)
	if err != nil {
		return fmt.Errorf("query existing todos: %w", err)
	}
	st.todos = o.deps.Dedup.Deduplicate(ctx, st.todos, existing)
	return nil
}

func (o *Orchestrator) detectCompletions(ctx context.Context, st *runState, log *logrus.Entry) error {
	open, err := store.OpenTodos(ctx, o.deps.Store)
	if err != nil {
		return fmt.Errorf("query open todos: %w", err)
	}
	st.open = open
	if o.deps.Completion == nil {
		return nil
	}
	signals, err := o.deps.Completion.Detect(ctx, open, st.bundle)
	if err != nil {
		return err
	}
	st.signals = signals
	return nil
}

// persist creates new todos and applies completion signals. Create and update
// failures abort the run; comment failures only warn.
func (o *Orchestrator) persist(ctx context.Context, st *runState, log *logrus.Entry) error {
	stats := &st.result.Stats
	seen := make(map[string]bool)

	for _, todo := range st.todos {
		if todo.IsDuplicate() {
			stats.Skipped++
			log.WithFields(logrus.Fields{"task": todo.Task, "existing_id": todo.UpdateID}).Debug("skipping duplicate")
			continue
		}

		record := models.FromCandidate(todo)
		if seen[record.DedupeHash] {
			stats.Skipped++
			log.WithField("task", todo.Task).Debug("skipping repeat within run")
			continue
		}
		seen[record.DedupeHash] = true

		created, err := o.deps.Store.Create(ctx, record)
		if err != nil {
			return fmt.Errorf("create todo %q: %w", todo.Task, err)
		}
		stats.Created++
		st.result.Created = append(st.result.Created, created)

		if todo.SourceContext != "" {
			o.comment(ctx, log, created.ID, ProvenanceComment(todo.Source, todo.SourceContext))
		}
	}

	threshold := o.cfg.CompletionThreshold()
	for _, signal := range st.signals {
		status := signal.StatusFor(threshold)
		patch := store.TodoPatch{Status: status, Completed: o.cfg.Today()}
		if err := o.deps.Store.Update(ctx, signal.TodoID, patch); err != nil {
			return fmt.Errorf("update todo %s: %w", signal.TodoID, err)
		}
		stats.Completed++
		if status == models.StatusNeedsReview {
			stats.NeedsReview++
		}
		o.comment(ctx, log, signal.TodoID, CompletionComment(signal, threshold))
	}

	o.deps.Metrics.RecordTodos("created", stats.Created)
	o.deps.Metrics.RecordTodos("skipped", stats.Skipped)
	o.deps.Metrics.RecordTodos("completed", stats.Completed-stats.NeedsReview)
	o.deps.Metrics.RecordTodos("needs_review", stats.NeedsReview)

	log.WithFields(logrus.Fields{
		"created":      stats.Created,
		"skipped":      stats.Skipped,
		"completed":    stats.Completed,
		"needs_review": stats.NeedsReview,
	}).Info("persistence complete")
	return nil
}

func (o *Orchestrator) comment(ctx context.Context, log *logrus.Entry, id, text string) {
	if err := o.deps.Store.Comment(ctx, id, text); err != nil {
		log.WithError(err).WithField("todo_id", id).Warn("could not add comment")
	}
}

// summarize never fails the run.
func (o *Orchestrator) summarize(ctx context.Context, st *runState, log *logrus.Entry) error {
	if o.deps.Summarizer == nil {
		return nil
	}
	open, err := store.OpenTodos(ctx, o.deps.Store)
	if err != nil {
		log.WithError(err).Warn("could not refresh open todos, summarizing the earlier snapshot")
		open = st.open
	}
	st.result.Summary = o.deps.Summarizer.Summarize(ctx, st.result.Stats, open, o.cfg.Now())
	return nil
}

// ProvenanceComment is attached to a newly created todo.
func ProvenanceComment(source models.Source, excerpt string) string {
	return fmt.Sprintf("Source (%s): %s", source, truncate(excerpt, provenanceLimit, "..."))
}

// CompletionComment explains why a todo was marked Done or Done?.
func CompletionComment(signal models.CompletionSignal, threshold float64) string {
	prefix := "Auto-completed"
	if signal.StatusFor(threshold) == models.StatusNeedsReview {
		prefix = "Needs review"
	}
	text := fmt.Sprintf("%s (%.0f%%)", prefix, signal.Confidence*100)
	if signal.Evidence != "" {
		text += fmt.Sprintf(": \"%s\"", truncate(signal.Evidence, evidenceLimit, ""))
	}
	return text
}

func truncate(s string, n int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + suffix
}

// IsPhaseFailure reports whether err aborted a run in one of its phases.
func IsPhaseFailure(err error) bool {
	return errors.Is(err, ErrPhaseFailed)
}
