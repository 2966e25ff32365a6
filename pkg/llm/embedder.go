package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/ragsync/pkg/processor"
)

// ErrMissingAPIKey is returned when no embedding credential is available.
var ErrMissingAPIKey = errors.New("no OpenAI API key configured")

// DefaultModel and DefaultDimensions identify the embedding model. Changing
// either invalidates every stored vector; it must be an explicit, versioned
// decision, never a silent default change.
const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
)

// EmbedderConfig represents the configuration for the embedding client.
// Dimensions is not sent with the request: the model's native output size is
// relied upon (text-embedding-3-small emits 1536). The field exists so config
// validation can reject a store whose vector column disagrees.
type EmbedderConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Embedder batches text chunks to the OpenAI embeddings API.
type Embedder struct {
	Config EmbedderConfig
	client *openai.LLM
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Dimensions == 0 {
		config.Dimensions = DefaultDimensions
	}

	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.Model),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	return &Embedder{
		Config: config,
		client: client,
	}, nil
}

func NewEmbedder() (*Embedder, error) {
	return NewEmbedderWithConfig(EmbedderConfig{})
}

// CreateEmbedding embeds the given texts in a single batched request.
// Entries that sanitize to empty are dropped before the call, so the output
// is index-aligned with the filtered input, not the original slice. Provider
// errors propagate unchanged; retry policy belongs to the caller.
func (e *Embedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	filtered := FilterEmpty(texts)
	if len(filtered) == 0 {
		return [][]float32{}, nil
	}

	embeddings, err := e.client.CreateEmbedding(ctx, filtered)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	return embeddings, nil
}

// FilterEmpty sanitizes each text and drops the ones that end up empty.
func FilterEmpty(texts []string) []string {
	filtered := make([]string, 0, len(texts))
	for _, text := range texts {
		if clean := processor.Sanitize(text); clean != "" {
			filtered = append(filtered, clean)
		}
	}
	return filtered
}

// FlattenEmbeddings concatenates a batch of vectors into a single slice.
func (e *Embedder) FlattenEmbeddings(embeddings [][]float32) []float32 {
	var flattened []float32
	for _, emb := range embeddings {
		flattened = append(flattened, emb...)
	}
	return flattened
}
