package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/pkg/logging"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	logger *slog.Logger
}

func applyChatDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return config, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.BaseURL == "" && config.Provider == ProviderOllama {
		config.BaseURL = DefaultOllamaURL
	}
	return config, nil
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case ProviderOllama:
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(config, model)
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	config, err := applyChatDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{
		config: config,
		llm:    model,
		logger: logging.NewModuleLogger("llm", "chat"),
	}, nil
}

func (ce *ChatEngine) messages(system, prompt string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
}

// Chat generates a complete response in one call.
func (ce *ChatEngine) Chat(ctx context.Context, system, prompt string) (string, error) {
	resp, err := ce.llm.GenerateContent(ctx, ce.messages(system, prompt),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	)
	if err != nil {
		return "", ce.upstream(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response from LLM", models.ErrUpstream)
	}
	return resp.Choices[0].Content, nil
}

// Generate streams the response to onDelta in order. It returns when
// generation ends, onDelta fails, or ctx is done.
func (ce *ChatEngine) Generate(ctx context.Context, system, prompt string, onDelta func(string) error) error {
	_, err := ce.llm.GenerateContent(ctx, ce.messages(system, prompt),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return onDelta(string(chunk))
		}),
	)
	if err != nil {
		return ce.upstream(ctx, err)
	}
	return nil
}

// ChatStream generates a response incrementally. Generation stops as soon as
// ctx is done.
func (ce *ChatEngine) ChatStream(ctx context.Context, system, prompt string) *TokenStream {
	return NewTokenStream(ctx, func(ctx context.Context, emit func(string) error) error {
		return ce.Generate(ctx, system, prompt, emit)
	})
}

// upstream keeps cancellation distinct from service failure.
func (ce *ChatEngine) upstream(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ce.logger.Error("generation failed", "model", ce.config.Model, "error", err)
	return fmt.Errorf("%w: chat error: %v", models.ErrUpstream, err)
}
