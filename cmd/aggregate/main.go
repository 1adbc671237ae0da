// Command aggregate runs the todo pipeline once from the command line, for the
// identity in the environment or for every enabled user in a users file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/llm"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/retry"
	"github.com/claysader-arch/todo-aggregator/internal/services"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

type options struct {
	envFile   string
	usersFile string
	all       bool
	dryRun    bool
	lookback  int
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Collect, extract and persist todos once",
		Long: `Run the todo pipeline once for the identity configured in the environment
(MY_NAME, MY_EMAIL, SLACK_USER_TOKEN, NOTION_DATABASE_ID, ...), or with --all for
every enabled user of the users file, one after another.

--dry-run keeps todos in memory and prints them instead of writing to Notion.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env", ".env", "dotenv file to load")
	cmd.Flags().StringVar(&opts.usersFile, "users", "", "users YAML file (defaults to USERS_FILE with --all)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "run every enabled user of the users file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "write todos to memory instead of Notion and print them")
	cmd.Flags().IntVar(&opts.lookback, "lookback", 0, "override LOOKBACK_DAYS")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if err := godotenv.Load(opts.envFile); err != nil {
		log.Printf("⚠️  No %s file loaded: %v", opts.envFile, err)
	}

	cfg := config.Load()
	logging.Init(cfg.Environment, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	model, err := llm.NewAnthropicModel(cfg.AnthropicAPIKey, cfg.AnthropicModel,
		llm.WithBaseURL(cfg.AnthropicBaseURL),
		llm.WithRateLimit(cfg.ModelRPS),
		llm.WithRetryPolicy(retry.DefaultPolicy(cfg.MaxRetries)),
	)
	if err != nil {
		return fmt.Errorf("creating model client: %w", err)
	}

	var serviceOpts []services.RunServiceOption
	var memory *store.MemoryTodoStore
	if opts.dryRun {
		memory = store.NewMemoryTodoStore()
		serviceOpts = append(serviceOpts, services.WithTodoStore(func(services.RunRequest, *logrus.Entry) store.TodoStore {
			return memory
		}))
	}
	runner := services.NewRunService(cfg, model, serviceOpts...)

	requests, err := buildRequests(ctx, cfg, opts)
	if err != nil {
		return err
	}

	failed := 0
	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		result, err := runner.Run(ctx, req)
		if err != nil {
			failed++
			var phaseErr *pipeline.PhaseError
			if errors.As(err, &phaseErr) {
				log.Printf("❌ [%s] Run failed during %s: %v", req.UserKey, phaseErr.Phase, phaseErr.Err)
			} else {
				log.Printf("❌ [%s] Run failed: %v", req.UserKey, err)
			}
			continue
		}
		printResult(req, result)
	}

	if memory != nil {
		printTodos(memory)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(requests))
	}
	return ctx.Err()
}

func buildRequests(ctx context.Context, cfg *config.Config, opts options) ([]services.RunRequest, error) {
	var runOpts []config.RunOption
	if opts.lookback > 0 {
		runOpts = append(runOpts, config.WithLookbackDays(opts.lookback))
	}

	path := opts.usersFile
	if path == "" && opts.all {
		path = cfg.UsersFile
	}
	if opts.all && path == "" {
		return nil, errors.New("--all needs --users or USERS_FILE")
	}

	if path == "" {
		return []services.RunRequest{{
			Trigger:  services.TriggerCLI,
			Identity: cfg.EnvIdentity(),
			Credentials: services.Credentials{
				SlackToken:         cfg.SlackUserToken,
				GmailRefreshToken:  cfg.GmailRefreshToken,
				NotionDatabaseID:   cfg.NotionDatabaseID,
				NotionMeetingsDBID: cfg.NotionMeetingsDatabaseID,
			},
			Options: runOpts,
		}}, nil
	}

	registry, err := store.NewFileUserRegistry(path, logrus.NewEntry(logrus.StandardLogger()))
	if err != nil {
		return nil, err
	}
	users, err := registry.EnabledUsers(ctx)
	if err != nil {
		return nil, err
	}
	requests := make([]services.RunRequest, 0, len(users))
	for i := range users {
		req := services.RequestForUser(&users[i], services.TriggerCLI)
		req.Options = runOpts
		requests = append(requests, req)
	}
	return requests, nil
}

func printResult(req services.RunRequest, result *pipeline.Result) {
	s := result.Stats
	fmt.Printf("\n✅ %s (run %s)\n", req.Identity.PrimaryName(), result.RunID)
	fmt.Printf("  Created: %d  Skipped: %d  Completed: %d (review: %d)  Duration: %.1fs\n",
		s.Created, s.Skipped, s.Completed, s.NeedsReview, s.DurationSeconds())

	var sources []string
	for name := range result.SourceCounts {
		sources = append(sources, name)
	}
	for name := range result.SourceErrors {
		if _, ok := result.SourceCounts[name]; !ok {
			sources = append(sources, name)
		}
	}
	sort.Strings(sources)
	for _, name := range sources {
		line := fmt.Sprintf("  %-16s %d items", name, result.SourceCounts[name])
		if msg, ok := result.SourceErrors[name]; ok {
			line += " (error: " + msg + ")"
		}
		fmt.Println(line)
	}
	if result.Summary != "" {
		fmt.Printf("\n%s\n", result.Summary)
	}
}

func printTodos(memory *store.MemoryTodoStore) {
	todos := memory.Todos()
	fmt.Printf("\n📝 Dry run: %d todos would be written\n", len(todos))
	for _, t := range todos {
		due := t.DueDate
		if due == "" {
			due = "-"
		}
		fmt.Printf("  [%s] %-8s %-10s %s\n", t.Status, t.Priority, due, t.Task)
	}
}
