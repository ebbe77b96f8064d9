package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/logger"
)

// APIKeyAuth requires "Authorization: Bearer <apiKey>". An empty key turns
// authentication off.
func APIKeyAuth(apiKey string, log *slog.Logger) echo.MiddlewareFunc {
	log = logger.OrDefault(log)
	if apiKey == "" {
		log.Warn("API_KEY not set, ops API is unauthenticated")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				log.Warn("missing authorization header",
					slog.String("ip", c.RealIP()),
					slog.String("path", c.Path()))
				return unauthorized("missing authorization header")
			}

			token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				log.Warn("invalid API key attempt",
					slog.String("ip", c.RealIP()),
					slog.String("path", c.Path()))
				return unauthorized("invalid API key")
			}

			return next(c)
		}
	}
}

func unauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}
