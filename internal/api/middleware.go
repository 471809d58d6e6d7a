package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/service"
)

const (
	AuthHeader      = "Authorization"
	BearerPrefix    = "Bearer "
	TokenCookieName = "authz_token"

	UserIDContextKey     = "authz_user_id"
	DeviceTypeContextKey = "authz_device_type"
	DeviceIDContextKey   = "authz_device_id"
)

// AuthzMiddleware runs every request through the verification pipeline.
// The bearer header takes precedence over the cookie. On allow, the caller's
// identity and device are stored on the echo context for handlers.
func AuthzMiddleware(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision := auth.Verify(c.Request().Context(), models.Request{
				Method: c.Request().Method,
				Path:   routePath(c),
				IP:     c.RealIP(),
				Token:  extractToken(c),
				Now:    time.Now(),
			})

			if !decision.Allow {
				return echo.NewHTTPError(statusForReason(decision.Reason), string(decision.Reason))
			}

			if decision.UserID != "" {
				c.Set(UserIDContextKey, decision.UserID)
				c.Set(DeviceTypeContextKey, decision.DeviceType)
				c.Set(DeviceIDContextKey, decision.DeviceID)
			}
			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get(AuthHeader); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	if cookie, err := c.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// routePath prefers the matched route template so policies keyed by
// parameterized paths resolve; raw URL path is the fallback.
func routePath(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}

func statusForReason(reason models.ReasonCode) int {
	switch reason {
	case models.ReasonRequireLogin, models.ReasonAccessOverdue, models.ReasonTokenMalformed:
		return http.StatusUnauthorized
	case models.ReasonRequestRepeat:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", c.Request().Method,
				"uri", v.URI,
				"status", v.Status,
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
