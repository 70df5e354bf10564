package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yenjordan/terminus/internal/auth"
)

func testApp(verifier auth.Verifier) *fiber.App {
	app := fiber.New()
	app.Get("/protected", RequireAuth(verifier), func(c *fiber.Ctx) error {
		p, ok := PrincipalFromContext(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.JSON(fiber.Map{"user_id": p.UserID})
	})
	return app
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	token, err := verifier.IssueToken("user-1", "user", time.Hour)
	require.NoError(t, err)

	app := testApp(verifier)
	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireAuthAcceptsTokenQueryParam(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	token, err := verifier.IssueToken("user-2", "user", time.Hour)
	require.NoError(t, err)

	app := testApp(verifier)
	req := httptest.NewRequest("GET", "/protected?token="+token, nil)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireAuthAcceptsCookie(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	token, err := verifier.IssueToken("user-3", "user", time.Hour)
	require.NoError(t, err)

	app := testApp(verifier)
	req := httptest.NewRequest("GET", "/protected", nil)
	req.AddCookie(&http.Cookie{Name: "terminus_token", Value: token})

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	app := testApp(verifier)

	req := httptest.NewRequest("GET", "/protected", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAuthRejectsInvalidToken(t *testing.T) {
	verifier := auth.NewJWTVerifier("test-secret")
	app := testApp(verifier)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
