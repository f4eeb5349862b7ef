package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !oneOf(c.LLM.Provider, "ollama", "openai") {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == "ollama" && !validURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "a valid Ollama base URL is required",
		})
	}

	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.api_key",
			Message: "api_key is required for the openai provider",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 4096",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 1",
		})
	}

	// Validate embedding config
	if !oneOf(c.Embedding.Provider, "ollama", "openai") {
		errors = append(errors, ValidationError{
			Field:   "embedding.provider",
			Message: fmt.Sprintf("unknown provider %q", c.Embedding.Provider),
		})
	}

	if c.Embedding.Dimension < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimension",
			Message: "dimension must be positive",
		})
	}

	if c.Embedding.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedding.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedding.rate_limit",
			Message: "rate_limit cannot be negative",
		})
	}

	// Validate Database config
	if !oneOf(c.Database.Driver, "postgres", "sqlite", "memory") {
		errors = append(errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unknown driver %q", c.Database.Driver),
		})
	}

	if c.Database.Driver == "postgres" && !validURL(c.Database.URL) {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "invalid database URL",
		})
	}

	// Validate vector config
	if !oneOf(c.Vector.Backend, "pgvector", "qdrant", "memory") {
		errors = append(errors, ValidationError{
			Field:   "vector.backend",
			Message: fmt.Sprintf("unknown backend %q", c.Vector.Backend),
		})
	}

	if c.Vector.Backend == "pgvector" && !validURL(c.Vector.URL) {
		errors = append(errors, ValidationError{
			Field:   "vector.url",
			Message: "pgvector needs a database URL",
		})
	}

	if strings.TrimSpace(c.Vector.Collection) == "" {
		errors = append(errors, ValidationError{
			Field:   "vector.collection",
			Message: "collection is required",
		})
	}

	if c.Vector.QdrantPort < 1 || c.Vector.QdrantPort > 65535 {
		errors = append(errors, ValidationError{
			Field:   "vector.qdrant_port",
			Message: "qdrant_port must be a valid port",
		})
	}

	// Validate ingest config
	if c.Ingest.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if o := c.Ingest.ChunkOverlap; o != nil && (*o < 0 || *o >= c.Ingest.ChunkSize) {
		errors = append(errors, ValidationError{
			Field:   "ingest.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Ingest.MinChunkLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.min_chunk_length",
			Message: "min_chunk_length cannot be negative",
		})
	}

	if c.Ingest.MaxUploadBytes < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.max_upload_bytes",
			Message: "max_upload_bytes must be positive",
		})
	}

	if c.Ingest.MaxChunks < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.max_chunks",
			Message: "max_chunks must be positive",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Server.StreamTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.stream_timeout",
			Message: "stream_timeout cannot be negative",
		})
	}

	if !oneOf(strings.ToLower(c.Log.Format), "text", "json") {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("unknown log format %q", c.Log.Format),
		})
	}

	return errors
}
