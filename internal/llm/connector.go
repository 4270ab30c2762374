package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names a generative-text vendor.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// Driver selects the client library used to reach a provider.
type Driver string

const (
	DriverLangchain Driver = "langchain"
	DriverOpenAI    Driver = "go-openai"
)

// ConnectorOptions configures a Backend.
type ConnectorOptions struct {
	Provider    Provider
	Driver      Driver
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// NewBackend builds the Backend described by opts.
func NewBackend(ctx context.Context, opts ConnectorOptions) (Backend, error) {
	switch opts.Driver {
	case DriverOpenAI:
		if opts.Provider != "" && opts.Provider != ProviderOpenAI {
			return nil, fmt.Errorf("driver %s only supports provider %s, got %s", opts.Driver, ProviderOpenAI, opts.Provider)
		}
		return NewOpenAIBackend(opts)
	case "", DriverLangchain:
		return NewLangchainBackend(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported llm driver: %s", opts.Driver)
	}
}

// LangchainBackend reaches every supported provider through langchaingo.
type LangchainBackend struct {
	provider Provider
	model    llms.Model
	options  ConnectorOptions
}

// NewLangchainBackend creates the langchaingo model for opts.Provider.
func NewLangchainBackend(ctx context.Context, opts ConnectorOptions) (*LangchainBackend, error) {
	log.Debug().
		Str("provider", string(opts.Provider)).
		Str("model", opts.Model).
		Float64("temperature", opts.Temperature).
		Msg("Creating langchain backend")

	var (
		model llms.Model
		err   error
	)
	switch opts.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(opts)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, opts)
	case ProviderClaude:
		model, err = anthropic.New(anthropic.WithToken(opts.APIKey), anthropic.WithModel(opts.Model))
	case ProviderCohere:
		model, err = createCohereModel(opts)
	case ProviderOllama:
		model, err = createOllamaModel(opts)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", opts.Provider, err)
	}

	return &LangchainBackend{provider: opts.Provider, model: model, options: opts}, nil
}

func createOpenAIModel(opts ConnectorOptions) (llms.Model, error) {
	o := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(opts.APIKey),
	}
	if opts.BaseURL != "" {
		o = append(o, openai.WithBaseURL(opts.BaseURL))
	}
	return openai.New(o...)
}

func createGeminiModel(ctx context.Context, opts ConnectorOptions) (llms.Model, error) {
	o := []googleai.Option{googleai.WithAPIKey(opts.APIKey)}
	if opts.Model != "" {
		o = append(o, googleai.WithDefaultModel(opts.Model))
	}
	return googleai.New(ctx, o...)
}

func createCohereModel(opts ConnectorOptions) (llms.Model, error) {
	o := []cohere.Option{
		cohere.WithToken(opts.APIKey),
		cohere.WithModel(opts.Model),
	}
	if opts.BaseURL != "" {
		o = append(o, cohere.WithBaseURL(opts.BaseURL))
	}
	return cohere.New(o...)
}

func createOllamaModel(opts ConnectorOptions) (llms.Model, error) {
	serverURL := opts.BaseURL
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	return ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(opts.Model))
}

// Name identifies the backend in logs and metrics.
func (b *LangchainBackend) Name() string {
	return "langchain/" + string(b.provider)
}

// Complete sends a system + user message pair to the model.
func (b *LangchainBackend) Complete(ctx context.Context, c Completion) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if strings.TrimSpace(c.System) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, c.User))

	callOptions := []llms.CallOption{llms.WithTemperature(b.options.Temperature)}
	if b.options.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(b.options.MaxTokens))
	}
	if b.provider == ProviderGemini && b.options.Model != "" {
		callOptions = append(callOptions, llms.WithModel(b.options.Model))
	}
	if c.JSONMode {
		callOptions = append(callOptions, llms.WithJSONMode())
	}

	resp, err := b.model.GenerateContent(ctx, messages, callOptions...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
