package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/services"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

// DailyRunJobName is the scheduler name of the batch job.
const DailyRunJobName = "daily-run"

// Runner runs the pipeline for one request.
type Runner interface {
	Run(ctx context.Context, req services.RunRequest) (*pipeline.Result, error)
}

// BatchSummary counts the outcomes of one batch.
type BatchSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// DailyRunJob runs the pipeline for every enabled user, one at a time. One
// user's failure does not stop the batch.
type DailyRunJob struct {
	users  store.UserRegistry
	runner Runner
	last   BatchSummary
}

// NewDailyRunJob creates the batch job
func NewDailyRunJob(users store.UserRegistry, runner Runner) *DailyRunJob {
	return &DailyRunJob{users: users, runner: runner}
}

// Run executes the batch
func (j *DailyRunJob) Run(ctx context.Context) error {
	users, err := j.users.EnabledUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	log.Printf("[DAILY-RUN] Starting batch for %d users", len(users))
	startTime := time.Now()

	var summary BatchSummary
	for i := range users {
		if ctx.Err() != nil {
			log.Printf("⚠️ [DAILY-RUN] Batch cancelled, %d users not run", len(users)-i)
			break
		}
		user := users[i]

		result, err := j.runner.Run(ctx, services.RequestForUser(&user, services.TriggerSchedule))
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			summary.Skipped++
			log.Printf("⏭️ [DAILY-RUN] %s already running elsewhere", user.Key)
		case err != nil:
			summary.Failed++
			log.Printf("❌ [DAILY-RUN] %s failed: %v", user.Key, err)
		default:
			summary.Succeeded++
			log.Printf("✅ [DAILY-RUN] %s: created=%d skipped=%d completed=%d",
				user.Key, result.Stats.Created, result.Stats.Skipped, result.Stats.Completed)
		}
	}

	j.last = summary
	log.Printf("[DAILY-RUN] Batch complete in %v: %d succeeded, %d failed, %d skipped",
		time.Since(startTime), summary.Succeeded, summary.Failed, summary.Skipped)
	return nil
}

// LastSummary returns the outcome of the most recent batch.
func (j *DailyRunJob) LastSummary() BatchSummary {
	return j.last
}
