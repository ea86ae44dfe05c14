package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

type Summarizer struct {
	client *api.Client
	model  string
	logger zerolog.Logger
}

// NewSummarizer creates a merge summarizer backed by a local Ollama model.
func NewSummarizer(model, host string, logger zerolog.Logger) (*Summarizer, error) {
	if model == "" {
		model = "llama3.2:3b"
	}
	cli, err := newClient(host)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return &Summarizer{
		client: cli,
		model:  model,
		logger: logger.With().Str("component", "ollama_summarizer").Logger(),
	}, nil
}

const mergeSystemPrompt = `You maintain short factual notes about people in a chat community.

Rules:
- Output one or two plain sentences, no markdown, no lists
- Keep every fact that is still true
- When the notes disagree, the newer note wins
- Never invent details`

// Merge implements memory.MergeSummarizer.
func (s *Summarizer) Merge(ctx context.Context, in memory.MergeInput) (memory.MergeResult, error) {
	var responseBuilder strings.Builder
	stream := false
	req := &api.GenerateRequest{
		Model:  s.model,
		Prompt: memory.MergePrompt(in),
		System: mergeSystemPrompt,
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.1,
		},
	}

	err := memory.Retry(ctx, func() error {
		responseBuilder.Reset()
		err := s.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
			responseBuilder.WriteString(resp.Response)
			return nil
		})
		var status api.StatusError
		if errors.As(err, &status) {
			return memory.ClassifyHTTPError(status.StatusCode, err)
		}
		return err
	})
	if err != nil {
		return memory.MergeResult{}, fmt.Errorf("failed to generate merged summary: %w", err)
	}

	summary := strings.TrimSpace(responseBuilder.String())
	if summary == "" {
		return memory.MergeResult{}, fmt.Errorf("received empty summary from model: %w", memory.ErrSummarizerUnavailable)
	}
	s.logger.Debug().Str("model", s.model).Int("length", len(summary)).Msg("Merged summary generated")
	return memory.MergeResult{
		Summary:    summary,
		RawContext: memory.JoinContexts(in.ExistingContext, in.IncomingContext),
	}, nil
}
