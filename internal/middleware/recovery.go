package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apierrors "antigravity2api-go/internal/errors"
)

// Recovery converts panics into a 500 error envelope. Panics reaching
// an already streaming response only abort the connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"request_id": c.GetString(RequestIDKey),
					"panic":      r,
					"stack":      string(debug.Stack()),
				}).Error("panic recovered")

				if c.Writer.Written() {
					c.Abort()
					return
				}
				apiErr := apierrors.New(apierrors.KindAPI, http.StatusInternalServerError,
					"internal_error", "api_error", "internal server error")
				c.Data(http.StatusInternalServerError, "application/json", apiErr.ToJSON())
				c.Abort()
			}
		}()
		c.Next()
	}
}
