// Package admin serves the operational endpoints: stats, credential
// management and queue control.
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"antigravity2api-go/internal/credential"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/handlers/common"
	"antigravity2api-go/internal/queue"
	"antigravity2api-go/internal/version"
)

// Handler bundles the operational endpoints.
type Handler struct {
	creds *credential.Manager
	queue *queue.Queue
	hub   *events.Hub
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Credentials *credential.Manager
	Queue       *queue.Queue
	Hub         *events.Hub
}

// NewHandler builds a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		creds: opts.Credentials,
		queue: opts.Queue,
		hub:   opts.Hub,
	}
}

// StatsPayload is the combined stats snapshot.
type StatsPayload struct {
	Credentials credential.Stats `json:"credentials"`
	Queue       queue.Snapshot   `json:"queue"`
}

// Snapshot builds the current stats payload.
func (h *Handler) Snapshot() StatsPayload {
	return StatsPayload{
		Credentials: h.creds.GetAllStats(),
		Queue:       h.queue.Stats(),
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     version.Version,
		"credentials": h.creds.EnabledCount(),
		"queue":       h.queue.Stats(),
	})
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Snapshot())
}

type remarkRequest struct {
	TokenPrefix string `json:"token_prefix" binding:"required"`
	Remark      string `json:"remark"`
}

// UpdateRemark handles POST /api/remark.
func (h *Handler) UpdateRemark(c *gin.Context) {
	var req remarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteError(c, apierrors.NewValidation(err.Error()))
		return
	}
	if err := h.creds.UpdateRemark(req.TokenPrefix, req.Remark); err != nil {
		common.WriteError(c, prefixLookupError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// prefixLookupError maps credential lookup failures onto the ingress
// error envelope.
func prefixLookupError(err error) error {
	switch {
	case errors.Is(err, credential.ErrCredentialNotFound):
		return apierrors.NewValidation("unknown credential")
	case errors.Is(err, credential.ErrAmbiguousPrefix):
		return apierrors.NewValidation("token prefix matches more than one credential")
	default:
		return err
	}
}

type enableRequest struct {
	TokenPrefix string `json:"token_prefix" binding:"required"`
	Enabled     *bool  `json:"enabled" binding:"required"`
}

// SetEnabled handles POST /api/credentials/enable.
func (h *Handler) SetEnabled(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteError(c, apierrors.NewValidation(err.Error()))
		return
	}
	if err := h.creds.SetEnabled(req.TokenPrefix, *req.Enabled); err != nil {
		common.WriteError(c, prefixLookupError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PauseQueue handles POST /api/queue/pause.
func (h *Handler) PauseQueue(c *gin.Context) {
	h.queue.Pause()
	c.JSON(http.StatusOK, h.queue.Stats())
}

// ResumeQueue handles POST /api/queue/resume.
func (h *Handler) ResumeQueue(c *gin.Context) {
	h.queue.Resume()
	c.JSON(http.StatusOK, h.queue.Stats())
}
