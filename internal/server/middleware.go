package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/auth"
	"github.com/doctrack-dev/doctrack/internal/config"
)

const (
	bearerPrefix = "Bearer "
)

var (
	ErrMissingToken = errors.New("missing session token")
	ErrInvalidToken = errors.New("invalid token")
)

func setSession(c *gin.Context, session auth.SessionView) {
	c.Set("session", session)
}

// GetSession returns the session placed in the request context by
// SessionMiddleware.
func GetSession(c *gin.Context) (auth.SessionView, bool) {
	value, exists := c.Get("session")
	if !exists {
		return auth.SessionView{}, false
	}

	session, ok := value.(auth.SessionView)
	return session, ok
}

// extractSessionToken reads the session token from the cookie (browser
// flows) or the Authorization header (API clients).
func extractSessionToken(c *gin.Context, cookieName string) (string, error) {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie, nil
	}

	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, bearerPrefix) {
		if token := strings.TrimPrefix(authHeader, bearerPrefix); token != "" {
			return token, nil
		}
	}

	return "", ErrMissingToken
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// SessionMiddleware validates the session token and projects it into the
// request context. The projection is pure: the token already carries the
// denormalized user fields, so no storage lookup happens per request.
func SessionMiddleware(cfg config.SessionConfig, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractSessionToken(c, cfg.CookieName)
		if err != nil {
			respondWithError(c, log, http.StatusUnauthorized, err, "Unauthorized")
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			respondWithError(c, log, http.StatusUnauthorized, ErrInvalidToken, "Invalid or expired token")
			return
		}

		setSession(c, auth.Project(claims))

		c.Next()
	}
}
