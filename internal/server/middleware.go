package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/rfavre/ovhsentry/internal/domain"
)

const rateLimiterExpiry = 5 * time.Minute

func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}

// requireSecret rejects requests whose access secret does not match the stored
// one. The secret arrives in the X-Api-Secret header, or in the `secret` query
// parameter for websocket upgrades where browsers cannot set headers.
func (s *Server) requireSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		stored, err := s.store.Get(c.Request().Context(), domain.KeyAccessSecret)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to read access secret",
			})
		}
		if stored == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "no access secret configured, set one via POST /api/secret",
			})
		}

		supplied := c.Request().Header.Get("X-Api-Secret")
		if supplied == "" {
			supplied = c.QueryParam("secret")
		}
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid access secret",
			})
		}
		return next(c)
	}
}
