package middleware

import (
	"net/http"
	"strings"

	"calendar-sync/core/constants"
	"calendar-sync/core/controller"
	"calendar-sync/core/errors"
	"calendar-sync/core/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Middleware struct {
	jwtSecret string
}

func NewMiddleware(jwtSecret string) *Middleware {
	return &Middleware{jwtSecret: jwtSecret}
}

// AuthMiddleware validates the bearer token and stores its claims on the context.
func (m *Middleware) AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.ErrMissingAuthorizationHeader, "missing authorization header")
			}
			token := strings.TrimPrefix(header, "Bearer ")
			claims, err := utils.ValidateAndParseToken(token, m.jwtSecret)
			if err != nil {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.ErrUnauthorized, "invalid token")
			}
			c.Set(constants.ContextTokenData, claims)
			return next(c)
		}
	}
}

// UserID extracts the authenticated user from the request context.
func UserID(c echo.Context) (uuid.UUID, error) {
	claims, ok := c.Get(constants.ContextTokenData).(*utils.TokenClaims)
	if !ok || claims == nil {
		return uuid.Nil, errors.NewAppError(errors.ErrUnauthorized, "user not authenticated", nil)
	}
	return claims.UserID, nil
}
