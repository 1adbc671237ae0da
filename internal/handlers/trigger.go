package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/middleware"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
	"github.com/claysader-arch/todo-aggregator/internal/services"
)

// Runner runs the pipeline for one request.
type Runner interface {
	Run(ctx context.Context, req services.RunRequest) (*pipeline.Result, error)
}

// RunRequest is the body of POST /api/run. Credentials travel with the
// request; nothing is stored.
type RunRequest struct {
	SlackToken         string `json:"slack_token"`
	GmailRefreshToken  string `json:"gmail_refresh_token"`
	NotionDatabaseID   string `json:"notion_database_id"`
	NotionMeetingsDBID string `json:"notion_meetings_db_id"`

	UserName          string `json:"user_name"`
	UserEmail         string `json:"user_email"`
	UserSlackUsername string `json:"user_slack_username"`
}

// RunResponse is returned by every successful run.
type RunResponse struct {
	Created         int     `json:"created"`
	Skipped         int     `json:"skipped"`
	Completed       int     `json:"completed"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TriggerHandler starts pipeline runs
type TriggerHandler struct {
	runner Runner
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(runner Runner) *TriggerHandler {
	return &TriggerHandler{runner: runner}
}

// Run executes the pipeline with credentials from the body
// POST /api/run
func (h *TriggerHandler) Run(c *fiber.Ctx) error {
	var body RunRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(body.UserName) == "" || strings.TrimSpace(body.NotionDatabaseID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user_name and notion_database_id are required",
		})
	}

	userKey := body.UserEmail
	if userKey == "" {
		userKey = strings.ToLower(strings.TrimSpace(body.UserName))
	}

	log.Printf("▶️  [TRIGGER] Running aggregator for %s", body.UserName)
	return h.execute(c, services.RunRequest{
		Trigger:  services.TriggerAPI,
		UserKey:  userKey,
		Identity: config.NewIdentity(body.UserName, body.UserEmail, body.UserSlackUsername),
		Credentials: services.Credentials{
			SlackToken:         body.SlackToken,
			GmailRefreshToken:  body.GmailRefreshToken,
			NotionDatabaseID:   body.NotionDatabaseID,
			NotionMeetingsDBID: body.NotionMeetingsDBID,
		},
		NotifyOnFailure: true,
	})
}

// RunForUser lets a registered user trigger their own run
// POST /api/users/:id/run
func (h *TriggerHandler) RunForUser(c *fiber.Ctx) error {
	user, ok := c.Locals(middleware.LocalUser).(*models.User)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Not authenticated",
		})
	}

	log.Printf("▶️  [TRIGGER] Self-service run for %s", user.Key)
	return h.execute(c, services.RequestForUser(user, services.TriggerPersonal))
}

func (h *TriggerHandler) execute(c *fiber.Ctx, req services.RunRequest) error {
	result, err := h.runner.Run(c.UserContext(), req)
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "A run for this user is already in progress",
		})
	case errors.Is(err, services.ErrInvalidRunRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		log.Printf("❌ [TRIGGER] Run failed for %s: %v", req.UserKey, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Run failed: " + err.Error(),
		})
	}

	log.Printf("✅ [TRIGGER] Completed for %s in %.1fs", req.UserKey, result.Stats.DurationSeconds())
	return c.JSON(RunResponse{
		Created:         result.Stats.Created,
		Skipped:         result.Stats.Skipped,
		Completed:       result.Stats.Completed,
		DurationSeconds: result.Stats.DurationSeconds(),
	})
}
