package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/utils"
)

func protectedEcho(secret string, extra ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	mws := append([]echo.MiddlewareFunc{JWTAuth(secret)}, extra...)
	e.GET("/guarded", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"patron_id": c.Get("patron_id"),
			"role":      c.Get("role"),
		})
	}, mws...)
	return e
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	e := protectedEcho("s3cret")
	at, err := utils.NewAccessToken("s3cret", 7, "PATRON", 5)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+at.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"PATRON"`)
}

func TestJWTAuthRejectsMissingAndBadTokens(t *testing.T) {
	e := protectedEcho("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := utils.NewAccessToken("different-secret", 7, "PATRON", 5)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+other.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := protectedEcho("s3cret", RequireRole("STAFF"))

	staff, err := utils.NewAccessToken("s3cret", 1, "STAFF", 5)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+staff.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	plain, err := utils.NewAccessToken("s3cret", 2, "PATRON", 5)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer "+plain.Token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
