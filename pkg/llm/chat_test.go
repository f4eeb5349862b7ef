package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/llm"
)

// scriptedModel streams a fixed list of increments.
type scriptedModel struct {
	chunks   []string
	err      error
	messages []llms.MessageContent
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	full := ""
	for _, chunk := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
		full += chunk
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestNewWithConfig(t *testing.T) {
	engine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       "testmodel",
		Temperature: 0.5,
		MaxTokens:   1000,
		BaseURL:     "http://localhost:1234",
	})
	assert.NoError(t, err)
	assert.NotNil(t, engine)
}

func TestNewWithConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		config llm.ChatConfig
	}{
		{"temperature too high", llm.ChatConfig{Temperature: 1.5}},
		{"negative tokens", llm.ChatConfig{Temperature: 0.5, MaxTokens: -1}},
		{"unknown provider", llm.ChatConfig{Provider: "smoke-signals"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := llm.NewWithConfig(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestChat(t *testing.T) {
	model := &scriptedModel{chunks: []string{"Hello", " world"}}
	engine, err := llm.NewWithModel(llm.ChatConfig{}, model)
	require.NoError(t, err)

	text, err := engine.Chat(context.Background(), "system text", "user prompt")

	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestChatStream(t *testing.T) {
	engine, err := llm.NewWithModel(llm.ChatConfig{}, &scriptedModel{chunks: []string{"Hello", "", " world"}})
	require.NoError(t, err)

	stream := engine.ChatStream(context.Background(), "system", "prompt")

	var got []string
	for delta := range stream.Deltas() {
		got = append(got, delta)
	}
	assert.Equal(t, []string{"Hello", " world"}, got)
	assert.NoError(t, stream.Err())
}

func TestChatStream_UpstreamError(t *testing.T) {
	engine, err := llm.NewWithModel(llm.ChatConfig{}, &scriptedModel{
		chunks: []string{"partial"},
		err:    errors.New("model crashed"),
	})
	require.NoError(t, err)

	text, err := engine.ChatStream(context.Background(), "system", "prompt").Collect()

	assert.Equal(t, "partial", text)
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestChatStream_Canceled(t *testing.T) {
	engine, err := llm.NewWithModel(llm.ChatConfig{}, &scriptedModel{chunks: []string{"one", "two", "three"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stream := engine.ChatStream(ctx, "system", "prompt")

	first := <-stream.Deltas()
	assert.Equal(t, "one", first)
	cancel()

	for range stream.Deltas() {
	}
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	assert.NotErrorIs(t, stream.Err(), models.ErrUpstream)
}

func TestTokenStream_BackPressure(t *testing.T) {
	produced := make(chan int, 10)
	stream := llm.NewTokenStream(context.Background(), func(ctx context.Context, emit func(string) error) error {
		for i := 0; i < 3; i++ {
			if err := emit("x"); err != nil {
				return err
			}
			produced <- i
		}
		return nil
	})

	// Nothing is read yet, so the producer must be parked on the first emit.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, produced, 0)

	text, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, "xxx", text)
	assert.Len(t, produced, 3)
}
