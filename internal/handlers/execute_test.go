package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenjordan/terminus/internal/auth"
	"github.com/yenjordan/terminus/internal/execution"
	"github.com/yenjordan/terminus/internal/middleware"
	"github.com/yenjordan/terminus/internal/models"
	"github.com/yenjordan/terminus/internal/repository"
	"github.com/yenjordan/terminus/internal/workspace"
)

func newExecuteTestApp(t *testing.T) (*fiber.App, *repository.InMemory, *auth.JWTVerifier) {
	t.Helper()
	root, err := os.MkdirTemp("", "terminus-handlers-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(root) })

	store := repository.NewInMemory()
	wsMgr := workspace.NewManager(root, 0755, store)
	engine := execution.NewEngine(1<<20, 1<<20, 500*time.Millisecond)
	verifier := auth.NewJWTVerifier("test-secret")

	app := fiber.New()
	h := NewExecuteHandler(engine, wsMgr, store)
	h.RegisterRoutes(app.Group("/api"), middleware.RequireAuth(verifier))

	return app, store, verifier
}

func TestHandleExecuteReturnsOutput(t *testing.T) {
	app, store, verifier := newExecuteTestApp(t)

	session, err := store.CreateSession(&models.Session{UserID: "owner-1"})
	require.NoError(t, err)
	token, err := verifier.IssueToken("owner-1", "user", time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"code":       "print(1 + 2)",
		"session_id": itoa(session.ID),
	})
	req := httptest.NewRequest("POST", "/api/terminal/code/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req, 20000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out executeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "3\n", out.Output)
	assert.Equal(t, 0, out.ExitStatus)
}

func TestHandleExecuteRejectsOtherUsersSession(t *testing.T) {
	app, store, verifier := newExecuteTestApp(t)

	session, err := store.CreateSession(&models.Session{UserID: "owner-1"})
	require.NoError(t, err)
	token, err := verifier.IssueToken("someone-else", "user", time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"code":       "print(1)",
		"session_id": itoa(session.ID),
	})
	req := httptest.NewRequest("POST", "/api/terminal/code/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestHandleExecuteRequiresAuth(t *testing.T) {
	app, store, _ := newExecuteTestApp(t)
	session, err := store.CreateSession(&models.Session{UserID: "owner-1"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"code":       "print(1)",
		"session_id": itoa(session.ID),
	})
	req := httptest.NewRequest("POST", "/api/terminal/code/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleExecuteRejectsUnknownSession(t *testing.T) {
	app, _, verifier := newExecuteTestApp(t)
	token, err := verifier.IssueToken("owner-1", "user", time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"code":       "print(1)",
		"session_id": "999999",
	})
	req := httptest.NewRequest("POST", "/api/terminal/code/execute", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
