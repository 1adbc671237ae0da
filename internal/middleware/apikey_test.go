package middleware

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/store"
)

type mapLookup map[string]*models.User

func (m mapLookup) GetUser(ctx context.Context, key string) (*models.User, error) {
	if u, ok := m[key]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func authType(c *fiber.Ctx) error {
	t, _ := c.Locals("auth_type").(string)
	return c.SendString(t)
}

func status(t *testing.T, app *fiber.App, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest("POST", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAPISecretMiddleware(t *testing.T) {
	app := fiber.New()
	app.Post("/guarded", APISecretMiddleware("top"), authType)

	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/guarded", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/guarded", map[string]string{"X-API-Secret": "to"}))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/guarded", map[string]string{"X-API-Secret": "top"}))

	open := fiber.New()
	open.Post("/guarded", APISecretMiddleware(""), authType)
	assert.Equal(t, fiber.StatusInternalServerError, status(t, open, "/guarded", map[string]string{"X-API-Secret": ""}))
}

func TestPersonalTokenMiddleware(t *testing.T) {
	users := mapLookup{
		"dana":  {Key: "dana", PersonalToken: "abc", Enabled: true},
		"notok": {Key: "notok", Enabled: true},
	}
	app := fiber.New()
	app.Post("/users/:id/run", PersonalTokenMiddleware(users), func(c *fiber.Ctx) error {
		u := c.Locals(LocalUser).(*models.User)
		return c.SendString(u.Key)
	})

	assert.Equal(t, fiber.StatusOK, status(t, app, "/users/dana/run", map[string]string{"X-Personal-Token": "abc"}))
	assert.Equal(t, fiber.StatusOK, status(t, app, "/users/dana/run?token=abc", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/users/dana/run", nil))
	// a user without a token can never be triggered, even with an empty match
	assert.Equal(t, fiber.StatusUnauthorized, status(t, app, "/users/notok/run?token=x", nil))
}
