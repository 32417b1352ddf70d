package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockInvoker is the subset of *bedrockruntime.Client used for embeddings.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockEmbedder calls Amazon Titan text embedding models on Bedrock. Titan embeds one text
// per call, so EmbedBatch issues one request per input.
type BedrockEmbedder struct {
	client     bedrockInvoker
	model      string
	dimensions int
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// NewBedrockEmbedder creates a Bedrock embedder using the default AWS credential chain.
// A positive timeout bounds each HTTP request.
func NewBedrockEmbedder(ctx context.Context, region, model string, dimensions int, timeout time.Duration) (*BedrockEmbedder, error) {
	if !strings.HasPrefix(model, "amazon.titan-embed") {
		return nil, fmt.Errorf("unsupported bedrock embedding model: %s (supported: amazon.titan-embed-*)", model)
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if timeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return &BedrockEmbedder{
		client:     bedrockruntime.NewFromConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns the embedding for a single text.
func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanRequest{InputText: text, Dimensions: e.dimensions, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal titan request: %w", err)
	}
	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke failed: %w", err)
	}
	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode titan response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Embedding, nil
}

// EmbedBatch embeds each text in order, stopping at the first failure.
func (e *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Dimensions returns the requested embedding dimension.
func (e *BedrockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *BedrockEmbedder) Close() error {
	return nil
}
