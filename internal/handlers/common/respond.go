// Package common holds response helpers shared by the HTTP handlers.
package common

import (
	"strconv"

	"github.com/gin-gonic/gin"

	apierrors "antigravity2api-go/internal/errors"
)

// WriteError renders err as an OpenAI-style error envelope and aborts
// the request. Rate limit errors carry a Retry-After header rounded up
// to whole seconds.
func WriteError(c *gin.Context, err error) {
	apiErr := apierrors.AsAPIError(err)
	if apiErr.Kind == apierrors.KindRateLimit && apiErr.RetryAfterMS > 0 {
		c.Header("Retry-After", strconv.FormatInt(apiErr.RetryAfterSeconds(), 10))
	}
	c.Data(apiErr.HTTPStatus, "application/json", apiErr.ToJSON())
	c.Abort()
}
