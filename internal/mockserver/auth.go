package mockserver

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware rejects requests whose bearer token does not match apiKey,
// the way the upstream rejects a wrong API key. Paths in skipPaths are public.
func AuthMiddleware(apiKey string, skipPaths []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" || slices.Contains(skipPaths, c.Request().URL.Path) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apiError(c, http.StatusUnauthorized, "invalid_request_error", "missing_api_key",
					"You didn't provide an API key.")
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return apiError(c, http.StatusUnauthorized, "invalid_request_error", "invalid_api_key",
					"invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				return apiError(c, http.StatusUnauthorized, "invalid_request_error", "invalid_api_key",
					"Incorrect API key provided.")
			}

			return next(c)
		}
	}
}

// apiError writes an OpenAI error envelope.
func apiError(c echo.Context, status int, errType, code, message string) error {
	body := map[string]any{
		"message": message,
		"type":    errType,
	}
	if code != "" {
		body["code"] = code
	}
	return c.JSON(status, map[string]any{"error": body})
}
