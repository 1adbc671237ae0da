package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]Pinger
	now    func() time.Time
}

// NewHealthHandler creates a new health handler. Nil checks are ignored.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &HealthHandler{checks: active, now: time.Now}
}

// Handle responds with server health status
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "ok",
		"timestamp": h.now().Format(time.RFC3339),
	}
	if len(h.checks) == 0 {
		return c.JSON(resp)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	components := make(fiber.Map, len(h.checks))
	healthy := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			components[name] = err.Error()
			healthy = false
			continue
		}
		components[name] = "ok"
	}
	resp["components"] = components

	if !healthy {
		resp["status"] = "degraded"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}
