package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"playforge/internal/config"
	"playforge/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:5173"

func middlewareApp(env string) *fiber.App {
	srv := &Server{config: &config.Config{Env: env, AllowedOrigins: testOrigin}}
	app := fiber.New()
	srv.SetupMiddleware(app)
	app.All("/limited", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func hit(t *testing.T, app *fiber.App, method string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, "/limited", nil)
	req.Header.Set("Origin", testOrigin)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

func exhaust(t *testing.T, app *fiber.App, method string) {
	t.Helper()
	for i := 0; i < globalRateLimit; i++ {
		require.Equal(t, fiber.StatusOK, hit(t, app, method, nil).StatusCode, "request %d", i)
	}
}

func TestSetupMiddleware_LimitedResponseKeepsCORS(t *testing.T) {
	app := middlewareApp("development")
	exhaust(t, app, http.MethodGet)

	resp := hit(t, app, http.MethodGet, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, models.CodeRateLimited, decode[models.ErrorResponse](t, readBody(t, resp)).Code)
}

func TestSetupMiddleware_PreflightBypassesLimiter(t *testing.T) {
	app := middlewareApp("development")
	exhaust(t, app, http.MethodPost)
	require.Equal(t, fiber.StatusTooManyRequests, hit(t, app, http.MethodPost, nil).StatusCode)

	resp := hit(t, app, http.MethodOptions, map[string]string{
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "authorization,content-type,x-webhook-secret",
	})
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Webhook-Secret")
}

func TestSetupMiddleware_TestEnvSkipsLimiter(t *testing.T) {
	app := middlewareApp("test")
	exhaust(t, app, http.MethodGet)
	assert.Equal(t, fiber.StatusOK, hit(t, app, http.MethodGet, nil).StatusCode)
}

func TestSetupMiddleware_SecurityHeadersAndRequestID(t *testing.T) {
	resp := hit(t, middlewareApp("test"), http.MethodGet, nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
}
