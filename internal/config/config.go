// Package config loads memflow configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Provider identifies an LLM or embedding backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values. It is built once at startup and
// passed explicitly into every stage constructor; nothing reads it from
// package-level state.
type Config struct {
	// DataRoot is the base directory for all memory artifacts
	// (dialogues, episodes, scenes, kg candidates, vectors).
	DataRoot string

	// LLM completion
	LLMProvider Provider
	LLMModel    string

	// Embeddings
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// Provider endpoints / credentials
	OllamaHost      string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	BedrockModelID  string

	// Neo4j person store
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// PromptFile optionally overrides the embedded prompt templates.
	PromptFile string

	// Chat persona
	UserName      string
	AssistantName string
	Language      string

	// Visualization server
	ServeAddr string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables, after sourcing an
// optional .env file from the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DataRoot: getEnv("MEMFLOW_DATA_ROOT", filepath.Join("data", "memory")),

		LLMProvider: Provider(getEnv("MEMFLOW_LLM_PROVIDER", string(ProviderOllama))),
		LLMModel:    getEnv("MEMFLOW_LLM_MODEL", "llama3.1"),

		EmbedProvider:  Provider(getEnv("MEMFLOW_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("MEMFLOW_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("MEMFLOW_EMBED_DIMENSION", 384),

		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		BedrockModelID:  getEnv("MEMFLOW_BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),

		Neo4jURI:      getEnv("NEO4J_URI", "neo4j://127.0.0.1:7687"),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		PromptFile: getEnv("MEMFLOW_PROMPT_FILE", ""),

		UserName:      getEnv("MEMFLOW_USER_NAME", "user"),
		AssistantName: getEnv("MEMFLOW_ASSISTANT_NAME", "assistant"),
		Language:      getEnv("MEMFLOW_LANGUAGE", "en"),

		ServeAddr: getEnv("MEMFLOW_SERVE_ADDR", ":8571"),

		LogFile:  getEnv("MEMFLOW_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("MEMFLOW_LOG_LEVEL", "INFO")),
	}
}

// DialoguesRoot returns the dialogue archive root.
func (c Config) DialoguesRoot() string { return filepath.Join(c.DataRoot, "dialogues") }

// EpisodesRoot returns the episode/qualification/eligibility root.
func (c Config) EpisodesRoot() string { return filepath.Join(c.DataRoot, "episodes") }

// ScenesRoot returns the scene store root.
func (c Config) ScenesRoot() string { return filepath.Join(c.DataRoot, "scenes") }

// KGCandidatesRoot returns the per-scene KG candidate root.
func (c Config) KGCandidatesRoot() string { return filepath.Join(c.DataRoot, "kg_candidates") }

// KGDataRoot returns the aggregated KG snapshot directory.
func (c Config) KGDataRoot() string { return filepath.Join(c.DataRoot, "kg_data") }

// VectorsRoot returns the scene vector store directory.
func (c Config) VectorsRoot() string { return filepath.Join(c.DataRoot, "vectors", "scenes") }

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
