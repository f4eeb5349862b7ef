package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OLLAMA_BASE_URL", "OPENAI_API_KEY", "DATABASE_URL", "QDRANT_HOST", "PORT", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedding:
  model: "mxbai-embed-large"
  dimension: 1024
  batch_size: 16

database:
  driver: "sqlite"
  url: "/var/lib/docchat/records.db"

vector:
  backend: "qdrant"
  collection: "manuals"
  qdrant_host: "qdrant.internal"

ingest:
  chunk_size: 500
  chunk_overlap: 100
  max_chunks: 50

retrieval:
  top_k: 8

server:
  addr: ":9090"
  stream_timeout: 90s

log:
  level: debug
  format: json
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "mxbai-embed-large", config.Embedding.Model)
	assert.Equal(t, 1024, config.Embedding.Dimension)
	assert.Equal(t, "sqlite", config.Database.Driver)
	assert.Equal(t, "qdrant", config.Vector.Backend)
	assert.Equal(t, "manuals", config.Vector.Collection)
	assert.Equal(t, "qdrant.internal", config.Vector.QdrantHost)
	assert.Equal(t, 6334, config.Vector.QdrantPort)
	assert.Equal(t, 500, config.Ingest.ChunkSize)
	require.NotNil(t, config.Ingest.ChunkOverlap)
	assert.Equal(t, 100, *config.Ingest.ChunkOverlap)
	assert.Equal(t, 50, config.Ingest.MinChunkLength)
	assert.Equal(t, 50, config.Ingest.MaxChunks)
	assert.Equal(t, 8, config.Retrieval.TopK)
	assert.Equal(t, 90*time.Second, config.Server.StreamTimeout)
	assert.Equal(t, "json", config.Log.Format)

	assert.Empty(t, config.Validate())
}

func TestLoadConfig_ZeroOverlapKept(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "database:\n  driver: memory\nvector:\n  backend: memory\ningest:\n  chunk_overlap: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, config.Ingest.ChunkOverlap)
	assert.Equal(t, 0, *config.Ingest.ChunkOverlap)
	assert.Empty(t, config.Validate())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "nomic-embed-text", config.Embedding.Model)
	assert.Equal(t, 768, config.Embedding.Dimension)
	assert.Equal(t, "postgres", config.Database.Driver)
	assert.Equal(t, "pgvector", config.Vector.Backend)
	assert.Equal(t, "pdf_documents", config.Vector.Collection)
	assert.Equal(t, 1000, config.Ingest.ChunkSize)
	require.NotNil(t, config.Ingest.ChunkOverlap)
	assert.Equal(t, 200, *config.Ingest.ChunkOverlap)
	assert.Equal(t, 50, config.Ingest.MinChunkLength)
	assert.Equal(t, int64(20<<20), config.Ingest.MaxUploadBytes)
	assert.Equal(t, 500, config.Ingest.MaxChunks)
	assert.Equal(t, 5, config.Retrieval.TopK)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, 5*time.Minute, config.Server.StreamTimeout)
}

func validConfig() Config {
	c := Config{}
	c.Database.Driver = "memory"
	c.Vector.Backend = "memory"
	applyDefaults(&c)
	return c
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name: "invalid llm",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 5000
				c.LLM.Temperature = 3.0
			},
			fields: []string{"llm.base_url", "llm.max_tokens", "llm.temperature"},
		},
		{
			name: "openai without key",
			mutate: func(c *Config) {
				c.LLM.Provider = "openai"
			},
			fields: []string{"llm.api_key"},
		},
		{
			name: "unknown names",
			mutate: func(c *Config) {
				c.Embedding.Provider = "cohere"
				c.Database.Driver = "oracle"
				c.Vector.Backend = "chroma"
				c.Log.Format = "xml"
			},
			fields: []string{"embedding.provider", "database.driver", "vector.backend", "log.format"},
		},
		{
			name: "postgres without url",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Vector.Backend = "pgvector"
			},
			fields: []string{"database.url", "vector.url"},
		},
		{
			name: "chunking limits",
			mutate: func(c *Config) {
				overlap := c.Ingest.ChunkSize
				c.Ingest.ChunkOverlap = &overlap
				c.Ingest.MinChunkLength = -1
				c.Ingest.MaxChunks = -5
				c.Retrieval.TopK = -1
				c.Embedding.Dimension = -1
			},
			fields: []string{
				"embedding.dimension",
				"ingest.chunk_overlap",
				"ingest.min_chunk_length",
				"ingest.max_chunks",
				"retrieval.top_k",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)

			errs := c.Validate()
			var got []string
			for _, e := range errs {
				got = append(got, e.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_HOST", "env-qdrant")
	t.Setenv("PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedding.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Vector.URL)
	assert.Equal(t, "sk-test", config.LLM.APIKey)
	assert.Equal(t, "env-qdrant", config.Vector.QdrantHost)
	assert.Equal(t, ":3000", config.Server.Addr)
	assert.Equal(t, "warn", config.Log.Level)
}

func TestEnvironmentOverrides_RespectProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")

	config := &Config{}
	config.Embedding.Provider = "openai"
	config.Embedding.BaseURL = "https://api.openai.com/v1"
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "https://api.openai.com/v1", config.Embedding.BaseURL)
}
