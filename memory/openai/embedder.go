package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/aschepis/backscratcher/recall/memory"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.SmallEmbedding3

// Embedder embeds text through an OpenAI-compatible embeddings endpoint.
// Query and document modes share the same representation.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     zerolog.Logger
}

// NewEmbedder creates an Embedder. If baseURL is empty the default OpenAI
// endpoint is used; dimensions of zero keeps the model's native size.
func NewEmbedder(apiKey, baseURL, model string, dimensions int, logger zerolog.Logger) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = DefaultModel
	}
	return &Embedder{
		client:     openai.NewClientWithConfig(config),
		model:      m,
		dimensions: dimensions,
		logger:     logger.With().Str("component", "openai_embedder").Logger(),
	}, nil
}

// Embed implements memory.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string, mode memory.EmbedMode) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, memory.ErrEmptyContent
	}
	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      e.model,
		Dimensions: e.dimensions,
	}

	var vec []float32
	err := memory.Retry(ctx, func() error {
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return backoff.Permanent(errors.New("openai returned no embeddings"))
		}
		vec = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("mode", string(mode)).Msg("Embedding failed")
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	return vec, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return memory.ClassifyHTTPError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return memory.ClassifyHTTPError(reqErr.HTTPStatusCode, err)
	}
	return err
}
