package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/chat"
	"github.com/xhad/docchat/pkg/sse"
)

type chatRequest struct {
	SessionID        string            `json:"sessionId"`
	Message          string            `json:"message"`
	EphemeralObjects []json.RawMessage `json:"ephemeralObjects"`
	TopK             int               `json:"topK"`
}

func (s *Server) turnContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.config.StreamTimeout > 0 {
		return context.WithTimeout(parent, s.config.StreamTimeout)
	}
	return context.WithCancel(parent)
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	ctx, cancel := s.turnContext(c.Request.Context())
	defer cancel()

	turn, err := s.deps.Coordinator.Start(ctx, chat.Request{
		UserID:           userID(c),
		SessionID:        req.SessionID,
		Message:          req.Message,
		EphemeralObjects: req.EphemeralObjects,
		TopK:             req.TopK,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	// Hold the headers back until the first event so a turn that fails
	// before producing anything still gets a proper status.
	first, ok := <-turn.Events()
	if !ok {
		s.writeError(c, turn.Err())
		return
	}

	sse.SetHeaders(c.Writer)
	c.Status(http.StatusOK)
	w := sse.NewWriter(c.Writer)

	broken := false
	emit := func(e chat.Event) {
		if broken {
			return
		}
		if err := w.WriteEvent(e); err != nil {
			broken = true
			turn.Cancel()
		}
	}

	emit(first)
	for e := range turn.Events() {
		emit(e)
	}

	if err := turn.Err(); err != nil && !models.IsCanceled(err) {
		s.logger.Warn("chat stream closed without done",
			"session_id", req.SessionID,
			"kind", models.Kind(err),
			"error", err)
	}
}
