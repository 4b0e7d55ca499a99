package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/pkg/apperror"
)

const testSecret = "test-secret"

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: testSecret}}
	return NewMiddleware(cfg, slog.New(slog.DiscardHandler))
}

func signToken(t *testing.T, sub, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func invoke(m *Middleware, header string) (error, string) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var gotUser string
	handler := m.RequireAuth()(func(c echo.Context) error {
		gotUser = UserID(c)
		return nil
	})
	return handler(c), gotUser
}

func TestRequireAuth_ValidToken(t *testing.T) {
	m := newTestMiddleware(t)
	err, user := invoke(m, "Bearer "+signToken(t, "user-1", testSecret))
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)
}

func TestRequireAuth_Rejections(t *testing.T) {
	m := newTestMiddleware(t)

	tests := []struct {
		name   string
		header string
		want   *apperror.Error
	}{
		{"missing header", "", apperror.ErrUnauthorized},
		{"not bearer", "Basic abc", apperror.ErrUnauthorized},
		{"garbage token", "Bearer not-a-jwt", apperror.ErrInvalidToken},
		{"wrong secret", "Bearer " + signToken(t, "user-1", "other-secret"), apperror.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err, _ := invoke(m, tt.header)
			require.Error(t, err)
			appErr := apperror.From(err)
			assert.Equal(t, tt.want.Code, appErr.Code)
		})
	}
}

func TestRequireAuth_NoSubject(t *testing.T) {
	m := newTestMiddleware(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	handlerErr, _ := invoke(m, "Bearer "+signed)
	require.Error(t, handlerErr)
	assert.Equal(t, "invalid_token", apperror.From(handlerErr).Code)
}
