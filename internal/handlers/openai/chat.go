package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/handlers/common"
	"antigravity2api-go/internal/logging"
	"antigravity2api-go/internal/monitoring"
	"antigravity2api-go/internal/queue"
	"antigravity2api-go/internal/streaming"
	"antigravity2api-go/internal/upstream"
)

// Handler serves the OpenAI-compatible endpoints.
type Handler struct {
	cfg     *config.Config
	engine  *upstream.Engine
	queue   *queue.Queue
	catalog *upstream.ModelCatalog
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Config  *config.Config
	Engine  *upstream.Engine
	Queue   *queue.Queue
	Catalog *upstream.ModelCatalog
}

// NewHandler builds a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		cfg:     opts.Config,
		engine:  opts.Engine,
		queue:   opts.Queue,
		catalog: opts.Catalog,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.WriteError(c, apierrors.NewValidation("failed to read request body: "+err.Error()))
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		common.WriteError(c, apierrors.NewValidation("invalid JSON: "+err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		common.WriteError(c, apierrors.NewValidation(err.Error()))
		return
	}

	// The queue timeout bounds the whole request: the wait for a slot
	// and the admitted handler's execution.
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.queue.Timeout())
	defer cancel()

	release, err := h.queue.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = apierrors.NewTimeout("timed out waiting for an execution slot")
		}
		apiErr := apierrors.AsAPIError(err)
		if apiErr.Kind == apierrors.KindQueueFull {
			monitoring.QueueRejectedTotal.WithLabelValues("queue_full").Inc()
		} else if apiErr.Kind == apierrors.KindTimeout {
			monitoring.QueueRejectedTotal.WithLabelValues("timeout").Inc()
		}
		common.WriteError(c, err)
		return
	}
	defer release()

	buildBody := func(cred *credential.Credential) ([]byte, error) {
		return BuildUpstreamBody(&req, h.cfg.Defaults, cred)
	}

	if req.Stream {
		h.streamCompletion(ctx, c, &req, buildBody)
		return
	}
	h.completeOnce(ctx, c, &req, buildBody)
}

// completeOnce collects the whole stream into one response body.
func (h *Handler) completeOnce(ctx context.Context, c *gin.Context, req *ChatRequest, buildBody upstream.BodyFunc) {
	collector := streaming.NewCollector(h.cfg.Thinking.Output)

	err := h.engine.Execute(ctx, buildBody, func(ev streaming.Event) error {
		collector.Add(ev)
		return nil
	})
	if err != nil {
		common.WriteError(c, timeoutOr(ctx, err))
		return
	}

	resp := ChatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: nowUnix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message: ResponseMessage{
				Role:             "assistant",
				Content:          collector.Content(),
				ReasoningContent: collector.ReasoningContent(),
				ToolCalls:        collector.ToolCalls(),
			},
			FinishReason: collector.FinishReason(),
		}},
		Usage: collector.Usage(),
	}
	c.JSON(http.StatusOK, resp)
}

// Models handles GET /v1/models.
func (h *Handler) Models(c *gin.Context) {
	models := h.catalog.Models(c.Request.Context())

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	out := make([]modelEntry, len(models))
	for i, id := range models {
		out[i] = modelEntry{ID: id, Object: "model", Created: nowUnix(), OwnedBy: "google"}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}

func logStreamError(c *gin.Context, err error) {
	logging.WithReq(c, nil).WithError(err).Warn("stream aborted")
}

// timeoutOr substitutes the admission deadline error when the request's
// processing window expired mid-flight.
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierrors.NewTimeout("request exceeded the processing timeout")
	}
	return err
}
