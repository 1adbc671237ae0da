package handlers

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

// UserAdmin is the registry surface the user endpoints need.
type UserAdmin interface {
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
}

// UserHandler handles user registry requests
type UserHandler struct {
	users UserAdmin
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserAdmin) *UserHandler {
	return &UserHandler{users: users}
}

// Create registers a user
// POST /api/users
func (h *UserHandler) Create(c *fiber.Ctx) error {
	var req models.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	user, err := h.users.CreateUser(c.UserContext(), models.User{
		Key:                req.Key,
		Name:               req.Name,
		Email:              req.Email,
		SlackUsername:      req.SlackUsername,
		NotionDatabaseID:   req.NotionDatabaseID,
		NotionMeetingsDBID: req.NotionMeetingsDBID,
		SlackToken:         req.SlackToken,
		GmailRefreshToken:  req.GmailRefreshToken,
		Enabled:            enabled,
	})
	switch {
	case errors.Is(err, store.ErrInvalidUser):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, store.ErrUserExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		log.Printf("❌ [USERS] Failed to create user %s: %v", req.Key, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create user",
		})
	}

	log.Printf("✅ [USERS] Registered user %s", user.Key)
	// the personal token is only ever shown here
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user":          user,
		"personalToken": user.PersonalToken,
	})
}

// List returns all users without their tokens
// GET /api/users
func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.users.ListUsers(c.UserContext())
	if err != nil {
		log.Printf("❌ [USERS] Failed to list users: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list users",
		})
	}
	if users == nil {
		users = []models.User{}
	}
	return c.JSON(fiber.Map{"users": users, "count": len(users)})
}
