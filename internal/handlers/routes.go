package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/claysader-arch/todo-aggregator/internal/middleware"
)

// Routes collects what the HTTP surface is built from. Users is nil when the
// registry cannot take registrations (the users file), Lookup is nil when
// there is no registry at all; the matching endpoints are then not mounted.
type Routes struct {
	APISecret string
	Runner    Runner
	Users     UserAdmin
	Lookup    middleware.UserLookup
	Health    *HealthHandler
}

// Setup mounts every endpoint on app.
func Setup(app *fiber.App, r Routes) {
	if r.Health == nil {
		r.Health = NewHealthHandler(nil)
	}
	app.Get("/health", r.Health.Handle)

	secret := middleware.APISecretMiddleware(r.APISecret)
	trigger := NewTriggerHandler(r.Runner)
	api := app.Group("/api")
	api.Post("/run", secret, trigger.Run)

	if r.Lookup != nil {
		api.Post("/users/:id/run", middleware.PersonalTokenMiddleware(r.Lookup), trigger.RunForUser)
	}
	if r.Users != nil {
		users := NewUserHandler(r.Users)
		api.Post("/users", secret, users.Create)
		api.Get("/users", secret, users.List)
	}
}
