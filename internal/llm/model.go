package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/qzhou-ai/memflow/internal/config"
	"github.com/qzhou-ai/memflow/internal/metrics"
)

// Model wraps a langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	metrics   *metrics.Collector
}

// NewModel creates an LLM model based on configuration. The context is used
// for provider setup only (AWS credential resolution), not for generation.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Model, error) {
	var model llms.Model
	var err error

	modelName := cfg.LLMModel

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx)
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.BedrockModelID),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}
		modelName = cfg.BedrockModelID

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:       model,
		modelName: modelName,
		metrics:   collector,
	}, nil
}

// Generate generates text from a single prompt.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("generating completion", "model", m.modelName, "prompt_len", len(prompt))

	start := time.Now()
	response, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.Record("llm.generate", duration, err == nil)
	}
	if err != nil {
		slog.Warn("completion failed", "model", m.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return "", wrapFatalError(fmt.Errorf("generate: %w", err))
	}

	slog.Debug("completion done", "model", m.modelName, "duration_ms", duration.Milliseconds(), "response_len", len(response))
	return response, nil
}

// GenerateWithSystem generates text with a separate system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages)
	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.Record("llm.generate", duration, err == nil)
	}
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate with system: %w", err))
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// GenerateMessages generates a reply for a full chat history. Used by the
// chat loop, where prior turns matter.
func (m *Model) GenerateMessages(ctx context.Context, messages []llms.MessageContent) (string, error) {
	start := time.Now()
	response, err := m.llm.GenerateContent(ctx, messages)
	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.Record("llm.generate", duration, err == nil)
	}
	if err != nil {
		return "", wrapFatalError(fmt.Errorf("generate chat: %w", err))
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}
