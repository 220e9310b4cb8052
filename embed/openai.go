package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Keksclan/spawncache/ratelimit"
	"github.com/Keksclan/spawncache/vector"
)

// OpenAIConfig configures an [OpenAI] embedder.
type OpenAIConfig struct {
	// BaseURL of the embeddings service, e.g. "https://api.openai.com/v1" or
	// a local TEI / LocalAI endpoint.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is optional for local services.
	APIKey string

	// Dimension is the expected output length. Responses of another length
	// are rejected with a *vector.DimensionMismatchError.
	Dimension int

	// Timeout for each HTTP request (default 30s).
	Timeout time.Duration

	// Limiter, when set, gates every outbound request.
	Limiter *ratelimit.Limiter

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// OpenAI calls an OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	dim     int
	limiter *ratelimit.Limiter
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("embed: base url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embed: model is required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = vector.DefaultDimension
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused" // local services don't check it
	}
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = cfg.BaseURL
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	oc.HTTPClient = hc

	return &OpenAI{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		dim:     cfg.Dimension,
		limiter: cfg.Limiter,
	}, nil
}

// Dimension returns the configured output dimension.
func (o *OpenAI) Dimension() int { return o.dim }

// Model returns the model name.
func (o *OpenAI) Model() string { return o.model }

// Embed requests a single embedding for text.
func (o *OpenAI) Embed(ctx context.Context, text string) (vector.Vector, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, &Error{Provider: "openai", Err: err}
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, &Error{Provider: "openai", Err: err}
	}
	if len(resp.Data) != 1 {
		return nil, &Error{Provider: "openai", Err: fmt.Errorf("got %d embeddings for 1 input", len(resp.Data))}
	}

	v := vector.Vector(resp.Data[0].Embedding)
	if err := vector.Check(v, o.dim); err != nil {
		return nil, &Error{Provider: "openai", Err: err}
	}
	return v, nil
}
