// Package middleware holds the gin middleware chain of the proxy.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"antigravity2api-go/internal/config"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/handlers/common"
)

// Auth validates the caller's API key from the Authorization header or
// the x-api-key header. The key is compared against the configured
// plain value or, when set, the bcrypt hash. With neither configured
// all requests pass.
func Auth(cfg *config.Config) gin.HandlerFunc {
	plain := cfg.Security.APIKey
	hash := cfg.Security.APIKeyHash

	return func(c *gin.Context) {
		if plain == "" && hash == "" {
			c.Next()
			return
		}

		provided := extractKey(c)
		if provided == "" {
			common.WriteError(c, apierrors.NewAuthentication("missing API key"))
			return
		}

		if hash != "" {
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) != nil {
				common.WriteError(c, apierrors.NewAuthentication("invalid API key"))
				return
			}
		} else if provided != plain {
			common.WriteError(c, apierrors.NewAuthentication("invalid API key"))
			return
		}

		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return strings.TrimSpace(auth)
	}
	return strings.TrimSpace(c.GetHeader("x-api-key"))
}
