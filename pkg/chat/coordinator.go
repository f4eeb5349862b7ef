package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/logging"
	"github.com/xhad/docchat/pkg/metrics"
	"github.com/xhad/docchat/pkg/prompt"
)

// Retriever is the slice of the retriever the coordinator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error)
}

type Request struct {
	UserID           string
	SessionID        string
	Message          string
	EphemeralObjects []json.RawMessage
	// TopK <= 0 uses the retriever default.
	TopK int
}

// Coordinator runs chat turns: it records the question, retrieves context,
// streams the answer and records the final answer once.
type Coordinator struct {
	retriever Retriever
	generator types.Generator
	sessions  types.SessionStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewCoordinator(retriever Retriever, generator types.Generator, sessions types.SessionStore, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		metrics:   m,
		logger:    logging.NewModuleLogger("chat", "coordinator"),
	}
}

// Start validates the request and persists the user message before any
// streaming begins; those failures are returned directly. Everything after
// that is reported through the returned Turn.
func (c *Coordinator) Start(ctx context.Context, req Request) (*Turn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", models.ErrValidation)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", models.ErrValidation)
	}

	if _, err := c.sessions.GetSession(ctx, req.UserID, req.SessionID); err != nil {
		return nil, err
	}

	if err := c.sessions.AppendMessage(ctx, &models.ChatMessage{
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   req.Message,
	}); err != nil {
		return nil, fmt.Errorf("failed to record user message: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &Turn{
		events: make(chan Event),
		cancel: cancel,
	}

	c.metrics.StreamStarted()
	go c.run(turnCtx, t, req)

	return t, nil
}

func (c *Coordinator) run(ctx context.Context, t *Turn, req Request) {
	started := time.Now()
	logger := c.logger.With("session_id", req.SessionID)

	err := c.stream(ctx, t, req, logger)
	t.err = classify(err)
	t.cancel()
	close(t.events)
	c.metrics.StreamEnded()

	outcome := metrics.OutcomeDone
	switch {
	case t.err == nil:
		logger.Info("chat turn finished", "outcome", outcome, "duration", time.Since(started))
	case errors.Is(t.err, models.ErrCanceled):
		outcome = metrics.OutcomeAborted
		logger.Info("chat turn aborted", "outcome", outcome, "duration", time.Since(started))
	default:
		outcome = metrics.OutcomeErrored
		logger.Error("chat turn failed", "outcome", outcome, "kind", models.Kind(t.err), "error", t.err)
	}
	c.metrics.ChatTurn(outcome)
}

func (c *Coordinator) stream(ctx context.Context, t *Turn, req Request, logger *slog.Logger) error {
	chunks, err := c.retriever.Retrieve(ctx, req.Message, req.TopK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	sources := make([]models.ChatSource, len(chunks))
	for i, chunk := range chunks {
		sources[i] = models.SourceFromChunk(chunk)
	}
	if !t.send(ctx, Event{Type: EventSources, Sources: sources}) {
		return ctx.Err()
	}

	body, err := prompt.Compose(req.Message, chunks, req.EphemeralObjects)
	if err != nil {
		return err
	}
	logger.Debug("prompt composed",
		"chunks", len(chunks),
		"objects", len(req.EphemeralObjects),
		"prompt_tokens", prompt.CountTokens(prompt.SystemPrompt)+prompt.CountTokens(body))

	tokens := llm.NewTokenStream(ctx, func(ctx context.Context, emit func(string) error) error {
		return c.generator.Generate(ctx, prompt.SystemPrompt, body, emit)
	})

	var full strings.Builder
	for delta := range tokens.Deltas() {
		full.WriteString(delta)
		if !t.send(ctx, Event{Type: EventText, Text: delta}) {
			t.cancel()
			for range tokens.Deltas() {
			}
			return ctx.Err()
		}
	}
	if err := tokens.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// The answer is final from here on; a late disconnect must not lose it.
	if err := c.sessions.AppendMessage(context.WithoutCancel(ctx), &models.ChatMessage{
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Content:   full.String(),
		Sources:   sources,
	}); err != nil {
		return fmt.Errorf("failed to record assistant message: %w", err)
	}

	t.send(ctx, Event{Type: EventDone})
	return nil
}

// classify separates client aborts from real failures.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrCanceled):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", models.ErrCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: generation timed out: %w", models.ErrUpstream, err)
	default:
		return err
	}
}

// Turn is a single, finite, non-restartable sequence of events.
type Turn struct {
	events chan Event
	cancel context.CancelFunc
	err    error
}

// Events yields sources, then text increments, then done. The channel is
// closed without done when the turn is aborted or fails.
func (t *Turn) Events() <-chan Event { return t.events }

// Err reports why the turn ended; nil after done. Only valid once Events is
// closed. Aborted turns report models.ErrCanceled.
func (t *Turn) Err() error { return t.err }

// Cancel aborts the turn. Safe to call more than once.
func (t *Turn) Cancel() { t.cancel() }

func (t *Turn) send(ctx context.Context, e Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case t.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
