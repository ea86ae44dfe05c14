package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

type Model string

const (
	ModelMXBAI     Model = "mxbai-embed-large"
	ModelNomicText Model = "nomic-embed-text"
)

// prefixes are the instruction prefixes asymmetric embedding models expect.
var prefixes = map[Model]struct{ query, document string }{
	ModelMXBAI:     {query: "Represent this sentence for searching relevant passages: "},
	ModelNomicText: {query: "search_query: ", document: "search_document: "},
}

type embedder struct {
	client *api.Client
	model  Model
	logger zerolog.Logger
}

// NewEmbedder returns an embedder for model. An empty host uses
// OLLAMA_HOST from the environment.
func NewEmbedder(model Model, host string, logger zerolog.Logger) (memory.Embedder, error) {
	cli, err := newClient(host)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = ModelMXBAI
	}
	return &embedder{
		client: cli,
		model:  model,
		logger: logger.With().Str("component", "ollama_embedder").Logger(),
	}, nil
}

func newClient(host string) (*api.Client, error) {
	if host == "" {
		return api.ClientFromEnvironment()
	}
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return api.NewClient(base, http.DefaultClient), nil
}

func (e *embedder) Embed(ctx context.Context, text string, mode memory.EmbedMode) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, memory.ErrEmptyContent
	}
	p := prefixes[e.model]
	switch mode {
	case memory.EmbedQuery:
		text = p.query + text
	default:
		text = p.document + text
	}

	var vec []float32
	err := memory.Retry(ctx, func() error {
		resp, err := e.client.Embed(ctx, &api.EmbedRequest{
			Model: string(e.model),
			Input: text,
		})
		if err != nil {
			var status api.StatusError
			if errors.As(err, &status) {
				return memory.ClassifyHTTPError(status.StatusCode, fmt.Errorf("failed to embed text: %w", err))
			}
			e.logger.Warn().Err(err).Msg("Embedding request failed, retrying")
			return fmt.Errorf("failed to embed text: %w", err)
		}
		if len(resp.Embeddings) == 0 {
			return backoff.Permanent(errors.New("ollama returned no embeddings"))
		}
		vec = resp.Embeddings[0]
		return nil
	})
	return vec, err
}
