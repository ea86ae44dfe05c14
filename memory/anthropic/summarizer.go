package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-haiku-latest"

// Summarizer implements memory.MergeSummarizer using Claude via the Messages API.
type Summarizer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewSummarizer returns a configured summarizer. baseURL is optional.
func NewSummarizer(apiKey, baseURL, model string, maxTokens int64, logger zerolog.Logger) (*Summarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	// Retries are driven by memory.Retry so every collaborator shares one policy.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Summarizer{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "anthropic_summarizer").Logger(),
	}, nil
}

const systemPrompt = `You maintain short factual notes about people in a chat community.

Rules:
- Output one or two plain sentences in third person
- Keep every fact that is still true
- When the notes disagree, the newer note wins
- Never invent details and never mention that you are merging notes`

// Merge implements memory.MergeSummarizer.
func (s *Summarizer) Merge(ctx context.Context, in memory.MergeInput) (memory.MergeResult, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		MaxTokens:   s.maxTokens,
		Temperature: anthropic.Float(0.1),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(memory.MergePrompt(in))),
		},
	}

	var summary string
	err := memory.Retry(ctx, func() error {
		message, err := s.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				if apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Response != nil {
					s.logger.Warn().
						Str("retry_after", apiErr.Response.Header.Get("Retry-After")).
						Msg("Rate limit encountered, retrying")
				}
				return memory.ClassifyHTTPError(apiErr.StatusCode, err)
			}
			return err
		}
		var b strings.Builder
		for _, block := range message.Content {
			if text, ok := block.AsAny().(anthropic.TextBlock); ok {
				b.WriteString(text.Text)
			}
		}
		summary = strings.TrimSpace(b.String())
		return nil
	})
	if err != nil {
		return memory.MergeResult{}, fmt.Errorf("failed to generate merged summary: %w", err)
	}
	if summary == "" {
		return memory.MergeResult{}, fmt.Errorf("empty summary text: %w", memory.ErrSummarizerUnavailable)
	}
	return memory.MergeResult{
		Summary:    summary,
		RawContext: memory.JoinContexts(in.ExistingContext, in.IncomingContext),
	}, nil
}
