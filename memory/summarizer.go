package memory

import (
	"context"
	"strings"
)

// MergeInput is the pair of memories a MergeSummarizer consolidates.
// Incoming is the newer content and wins on conflicts.
type MergeInput struct {
	ExistingSummary string
	ExistingContext string
	IncomingSummary string
	IncomingContext string
}

// MergeResult is the consolidated memory text.
type MergeResult struct {
	Summary    string
	RawContext string
}

// MergeSummarizer consolidates two versions of the same fact.
type MergeSummarizer interface {
	Merge(ctx context.Context, in MergeInput) (MergeResult, error)
}

// NewestWinsSummarizer merges without a language model: the incoming
// summary replaces the existing one and contexts are concatenated.
type NewestWinsSummarizer struct{}

// Merge implements MergeSummarizer.
func (NewestWinsSummarizer) Merge(_ context.Context, in MergeInput) (MergeResult, error) {
	summary := strings.TrimSpace(in.IncomingSummary)
	if summary == "" {
		summary = strings.TrimSpace(in.ExistingSummary)
	}
	return MergeResult{
		Summary:    summary,
		RawContext: JoinContexts(in.ExistingContext, in.IncomingContext),
	}, nil
}

// MergePrompt renders the instruction given to language-model summarizers.
func MergePrompt(in MergeInput) string {
	var b strings.Builder
	b.WriteString("Two notes describe the same fact about a person. Merge them into one concise note.\n")
	b.WriteString("If they disagree, the NEW note is correct. Do not add information that is in neither note.\n")
	b.WriteString("Reply with the merged note only, one or two sentences.\n\n")
	b.WriteString("OLD: ")
	b.WriteString(strings.TrimSpace(in.ExistingSummary))
	b.WriteString("\nNEW: ")
	b.WriteString(strings.TrimSpace(in.IncomingSummary))
	b.WriteString("\n")
	return b.String()
}

// JoinContexts concatenates two raw contexts, dropping empties and duplicates.
func JoinContexts(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)
	switch {
	case existing == "":
		return incoming
	case incoming == "" || incoming == existing:
		return existing
	default:
		return existing + "\n---\n" + incoming
	}
}
