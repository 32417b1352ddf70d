package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 30 * time.Second

// httpDoer is the subset of *fasthttp.Client used by the HTTP providers.
type httpDoer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

// OllamaEmbedder calls an Ollama-compatible /api/embed endpoint.
type OllamaEmbedder struct {
	client     httpDoer
	endpoint   string
	model      string
	apiKey     string
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaOption configures an OllamaEmbedder.
type OllamaOption func(*OllamaEmbedder)

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) OllamaOption {
	return func(e *OllamaEmbedder) { e.apiKey = key }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) OllamaOption {
	return func(e *OllamaEmbedder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithOllamaLogger sets the logger.
func WithOllamaLogger(l *zap.Logger) OllamaOption {
	return func(e *OllamaEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// withHTTPClient replaces the fasthttp client.
func withHTTPClient(c httpDoer) OllamaOption {
	return func(e *OllamaEmbedder) { e.client = c }
}

// NewOllamaEmbedder creates an embedder for the Ollama server at baseURL (e.g. http://localhost:11434).
func NewOllamaEmbedder(baseURL, model string, dimensions int, opts ...OllamaOption) (*OllamaEmbedder, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ollama url is required")
	}
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	e := &OllamaEmbedder{
		client: &fasthttp.Client{
			Name:                "manasearch",
			MaxIdleConnDuration: time.Minute,
		},
		endpoint:   strings.TrimRight(baseURL, "/") + "/api/embed",
		model:      model,
		dimensions: dimensions,
		timeout:    defaultRequestTimeout,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request. The response must hold one non-empty vector per input.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(ollamaRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	status, respBody, err := e.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		e.logger.Error("non-OK response from ollama",
			zap.Int("status", status),
			zap.String("body", truncateBody(respBody)))
		return nil, fmt.Errorf("%w: %d", ErrProviderNonOKResponse, status)
	}

	var out ollamaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if err := checkBatch(out.Embeddings, len(texts)); err != nil {
		return nil, err
	}
	if e.dimensions > 0 && len(out.Embeddings[0]) != e.dimensions {
		e.logger.Warn("embedding size does not match configured dimensions",
			zap.Int("got", len(out.Embeddings[0])), zap.Int("want", e.dimensions))
	}
	return out.Embeddings, nil
}

// post sends body to the endpoint. The request runs on its own goroutine so a cancelled ctx
// returns at once; the abandoned request and response are released when the client finishes.
func (e *OllamaEmbedder) post(ctx context.Context, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}

	req.SetRequestURI(e.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	req.SetBody(body)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.client.DoTimeout(req, resp, e.timeout)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-errCh
			release()
		}()
		return 0, nil, ctx.Err()
	case err := <-errCh:
		defer release()
		if err != nil {
			e.logger.Error("embedding request failed", zap.Error(err))
			return 0, nil, fmt.Errorf("embedding request failed: %w", err)
		}
		return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
	}
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	if c, ok := e.client.(*fasthttp.Client); ok {
		c.CloseIdleConnections()
	}
	return nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
