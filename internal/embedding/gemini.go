package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"
)

// geminiModels is the subset of *genai.Models used for embeddings.
type geminiModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder calls the Gemini API embedContent endpoint.
type GeminiEmbedder struct {
	models     geminiModels
	model      string
	dimensions int
}

// NewGeminiEmbedder creates a Gemini embedder. baseURL may be empty for the public API.
func NewGeminiEmbedder(ctx context.Context, apiKey, baseURL, model string, dimensions int, timeout time.Duration) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{models: client.Models, model: model, dimensions: dimensions}, nil
}

// Embed returns the embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if e.dimensions > 0 {
		d := int32(e.dimensions)
		cfg.OutputDimensionality = &d
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if resp == nil {
		return nil, ErrEmptyEmbedding
	}
	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			vectors[i] = emb.Values
		}
	}
	if err := checkBatch(vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimensions returns the requested embedding dimension.
func (e *GeminiEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *GeminiEmbedder) Close() error {
	return nil
}
