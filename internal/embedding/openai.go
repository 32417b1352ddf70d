package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIEmbedder calls the OpenAI embeddings API (or a compatible server via baseURL).
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an OpenAI embedder. baseURL may be empty for the public API.
// Requests are not retried; failures surface to the caller.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, timeout time.Duration) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, returning vectors in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %d", ErrProviderNonOKResponse, apiErr.StatusCode)
		}
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBatchMismatch, len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrBatchMismatch, d.Index)
		}
		vectors[d.Index] = toFloat32(d.Embedding)
	}
	if err := checkBatch(vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the client holds no resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
