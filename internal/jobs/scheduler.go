package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks a five-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first activation of expr after from, in loc.
func NextRun(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from.In(loc)), nil
}

type registeredJob struct {
	job   Job
	cron  string
	entry gocron.Job
}

// Scheduler runs registered jobs on cron schedules. A job never overlaps
// with itself; a tick that arrives while it is still running is skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	location  *time.Location
	jobs      map[string]*registeredJob
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler evaluating cron expressions in loc.
func NewScheduler(loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: scheduler,
		location:  loc,
		jobs:      make(map[string]*registeredJob),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job to the scheduler
func (s *Scheduler) Register(name, cronExpr string, job Job) error {
	if err := ValidateCron(cronExpr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	entry, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() { s.runJob(name, job) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %q: %w", name, err)
	}

	s.jobs[name] = &registeredJob{job: job, cron: cronExpr, entry: entry}
	log.Printf("✅ [SCHEDULER] Registered job: %s (cron: %s, tz: %s)", name, cronExpr, s.location)
	return nil
}

// Start begins running all registered jobs
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Started job scheduler with %d jobs", len(s.jobs))
}

// runJob executes a job and logs its outcome
func (s *Scheduler) runJob(name string, job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed after %v: %v", name, time.Since(startTime), err)
		return
	}
	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
}

// Stop gracefully stops all jobs
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")

	// Cancel context and wait for running jobs
	s.cancel()
	var err error
	if wasRunning {
		err = s.scheduler.Shutdown()
	}
	s.wg.Wait()

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return err
}

// RunNow immediately runs a specific job on the caller's goroutine
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	registered, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %q not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return registered.job.Run(s.ctx)
}

// GetStatus returns the status of all jobs
func (s *Scheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus, len(s.jobs))
	for name, registered := range s.jobs {
		next, err := NextRun(registered.cron, time.Now(), s.location)
		if err != nil {
			continue
		}
		if s.running {
			if scheduled, err := registered.entry.NextRun(); err == nil && !scheduled.IsZero() {
				next = scheduled
			}
		}
		status[name] = JobStatus{
			Name:        name,
			Cron:        registered.cron,
			NextRunTime: next,
			Registered:  true,
		}
	}
	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Cron        string    `json:"cron"`
	NextRunTime time.Time `json:"next_run_time"`
	Registered  bool      `json:"registered"`
}
