package openai

import (
	"context"

	"github.com/gin-gonic/gin"

	"antigravity2api-go/internal/config"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/handlers/common"
	"antigravity2api-go/internal/streaming"
	"antigravity2api-go/internal/upstream"
)

// chunkStream emits completion chunks for one streaming response. The
// SSE headers go out lazily with the first chunk so failures before
// any output can still use a plain JSON error status.
type chunkStream struct {
	c      *gin.Context
	writer *common.SSEWriter

	id      string
	created int64
	model   string
	mode    string

	// inThink tracks an open think tag in raw mode.
	inThink bool
	// sentFirst marks that the role-bearing first chunk went out.
	sentFirst bool
}

// streamCompletion drives the retry engine and forwards its events as
// completion chunks.
func (h *Handler) streamCompletion(ctx context.Context, c *gin.Context, req *ChatRequest, buildBody upstream.BodyFunc) {
	stream := &chunkStream{
		c:       c,
		id:      newCompletionID(),
		created: nowUnix(),
		model:   req.Model,
		mode:    h.cfg.Thinking.Output,
	}

	err := h.engine.Execute(ctx, buildBody, stream.onEvent)
	if err != nil {
		if stream.writer == nil {
			common.WriteError(c, timeoutOr(ctx, err))
			return
		}
		// Output already started; the best that can be done is an
		// error frame before closing.
		logStreamError(c, err)
		apiErr := apierrors.AsAPIError(err)
		stream.writer.Send(map[string]any{"error": map[string]string{
			"message": apiErr.Message,
			"type":    apiErr.Type,
			"code":    apiErr.Code,
		}})
		stream.writer.Done()
		return
	}

	if stream.writer == nil {
		// Upstream finished without emitting anything.
		if !stream.ensureWriter() {
			return
		}
		stop := "stop"
		stream.send(Delta{}, &stop, nil)
	}
	stream.writer.Done()
}

func (s *chunkStream) onEvent(ev streaming.Event) error {
	switch ev.Kind {
	case streaming.EventText:
		return s.sendText(ev.Text)
	case streaming.EventThinking:
		return s.sendThinking(ev.Text)
	case streaming.EventToolCalls:
		return s.closeThink(func() error {
			return s.send(Delta{ToolCalls: ev.ToolCalls}, nil, nil)
		})
	case streaming.EventFinish:
		reason := ev.FinishReason
		return s.closeThink(func() error {
			return s.send(Delta{}, &reason, ev.Usage)
		})
	}
	return nil
}

func (s *chunkStream) sendText(text string) error {
	return s.closeThink(func() error {
		return s.send(Delta{Content: text}, nil, nil)
	})
}

func (s *chunkStream) sendThinking(text string) error {
	switch s.mode {
	case config.ThinkingFilter:
		return nil
	case config.ThinkingRaw:
		if !s.inThink {
			s.inThink = true
			if err := s.send(Delta{Content: "<think>"}, nil, nil); err != nil {
				return err
			}
		}
		return s.send(Delta{Content: text}, nil, nil)
	default:
		return s.send(Delta{ReasoningContent: text}, nil, nil)
	}
}

// closeThink terminates an open raw-mode think span before emitting
// whatever comes next.
func (s *chunkStream) closeThink(next func() error) error {
	if s.inThink {
		s.inThink = false
		if err := s.send(Delta{Content: "</think>"}, nil, nil); err != nil {
			return err
		}
	}
	return next()
}

func (s *chunkStream) send(delta Delta, finishReason *string, usage *streaming.Usage) error {
	if !s.ensureWriter() {
		return apierrors.NewStream("response writer does not support streaming")
	}
	if !s.started() {
		delta.Role = "assistant"
	}
	chunk := ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []ChunkChoice{{Delta: delta, FinishReason: finishReason}},
		Usage:   usage,
	}
	s.sentFirst = true
	return s.writer.Send(chunk)
}

func (s *chunkStream) ensureWriter() bool {
	if s.writer != nil {
		return true
	}
	writer, ok := common.NewSSEWriter(s.c)
	if !ok {
		return false
	}
	s.writer = writer
	return true
}

func (s *chunkStream) started() bool { return s.sentFirst }
