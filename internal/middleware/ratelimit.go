package middleware

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"antigravity2api-go/internal/config"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/handlers/common"
)

// RateLimit enforces a process-wide ingress rate when enabled in the
// configuration.
func RateLimit(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimit.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			common.WriteError(c, apierrors.NewRateLimit("too many requests", 1000))
			return
		}
		c.Next()
	}
}
