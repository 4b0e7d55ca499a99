// Package auth validates bearer tokens and exposes the authenticated user
// ID to handlers. Token issuance lives elsewhere; this package only consumes
// validated claims.
package auth

import (
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/cortexa-labs/ragserver/internal/config"
	"github.com/cortexa-labs/ragserver/pkg/apperror"
	"github.com/cortexa-labs/ragserver/pkg/logger"
)

// Module provides the auth middleware via fx
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)

const userIDKey = "auth.userID"

// Middleware validates Authorization headers on protected routes
type Middleware struct {
	secret []byte
	log    *slog.Logger
}

// NewMiddleware creates the auth middleware
func NewMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	return &Middleware{
		secret: []byte(cfg.Auth.JWTSecret),
		log:    log.With(logger.Scope("auth")),
	}
}

// RequireAuth returns middleware that rejects requests without a valid
// bearer token and stores the token subject as the request user ID.
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				return apperror.ErrUnauthorized
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return m.secret, nil
			})
			if err != nil || !token.Valid {
				return apperror.ErrInvalidToken
			}

			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				return apperror.ErrInvalidToken.WithMessage("Token has no subject")
			}

			SetUserID(c, sub)
			return next(c)
		}
	}
}

// SetUserID stores the authenticated user ID on the request context. Also
// used by handler tests to simulate an authenticated request.
func SetUserID(c echo.Context, userID string) {
	c.Set(userIDKey, userID)
}

// UserID returns the authenticated user ID, or "" when unauthenticated.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
