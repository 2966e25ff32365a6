package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Embedding config
	if c.Embedding.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.api_key",
			Message: "OpenAI API key is required",
		})
	}

	if c.Embedding.Model == "" {
		errors = append(errors, ValidationError{
			Field:   "embedding.model",
			Message: "embedding model is required",
		})
	}

	if c.Embedding.Dimensions < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedding.dimensions",
			Message: "dimensions must be positive",
		})
	}

	if c.Embedding.BaseURL != "" {
		if _, err := url.Parse(c.Embedding.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "embedding.base_url",
				Message: "invalid embedding base URL",
			})
		}
	}

	// Validate Database config
	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.VectorDim != c.Embedding.Dimensions {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must match embedding dimensions",
		})
	}

	if c.Database.SearchLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.search_limit",
			Message: "search_limit must be positive",
		})
	}

	// Validate Drive config
	if c.Drive.PollInterval < 1 {
		errors = append(errors, ValidationError{
			Field:   "drive.poll_interval",
			Message: "poll_interval must be positive",
		})
	}

	if c.Drive.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "drive.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Drive.PageSize < 1 || c.Drive.PageSize > 1000 {
		errors = append(errors, ValidationError{
			Field:   "drive.page_size",
			Message: "page_size must be between 1 and 1000",
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Validate Server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	return errors
}
