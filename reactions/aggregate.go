package reactions

import (
	"math"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/recall/memory"
)

// StrongSentiment is the magnitude at which a reaction counts as strongly
// positive or strongly negative for controversy.
const StrongSentiment = 0.5

const (
	minBoost = -0.1
	maxBoost = 0.2
)

// Summarize folds active reactions into an engagement summary. It returns
// nil when there are no reactions.
func Summarize(reactions []Reaction, now time.Time) *memory.ReactionSummary {
	if len(reactions) == 0 {
		return nil
	}

	// Sentiment is weighted by intensity; a batch of zero weights falls back
	// to the plain mean.
	weight := func(r Reaction) float64 { return r.Intensity }
	totalWeight := lo.SumBy(reactions, weight)
	var sentiment float64
	if totalWeight > 0 {
		sentiment = lo.SumBy(reactions, func(r Reaction) float64 { return r.Sentiment * weight(r) }) / totalWeight
	} else {
		sentiment = lo.SumBy(reactions, func(r Reaction) float64 { return r.Sentiment }) / float64(len(reactions))
	}

	intents := lo.CountValuesBy(
		lo.Filter(reactions, func(r Reaction, _ int) bool { return r.Intent != "" }),
		func(r Reaction) string { return r.Intent },
	)
	if len(intents) == 0 {
		intents = nil
	}

	return &memory.ReactionSummary{
		SchemaVersion:   memory.ReactionSummarySchemaVersion,
		TotalReactions:  len(reactions),
		UniqueReactors:  len(lo.Uniq(lo.Map(reactions, func(r Reaction, _ int) string { return r.ReactorID }))),
		SentimentScore:  clamp(sentiment, -1, 1),
		IntensityScore:  clamp(lo.SumBy(reactions, func(r Reaction) float64 { return r.Intensity })/float64(len(reactions)), 0, 1),
		Controversy:     Controversy(reactions),
		IntentHistogram: intents,
		TopEmoji:        topEmoji(reactions),
		LastAggregated:  now.UTC(),
	}
}

// Controversy is 0 when strong reactions are one-sided and 1 when strongly
// positive and strongly negative reactions are evenly split.
func Controversy(reactions []Reaction) float64 {
	pos := lo.CountBy(reactions, func(r Reaction) bool { return r.Sentiment >= StrongSentiment })
	neg := lo.CountBy(reactions, func(r Reaction) bool { return r.Sentiment <= -StrongSentiment })
	if pos == 0 || neg == 0 {
		return 0
	}
	return float64(min(pos, neg)) / float64(max(pos, neg))
}

// topEmoji is the most used emoji, ties broken lexically.
func topEmoji(reactions []Reaction) string {
	counts := lo.CountValuesBy(reactions, func(r Reaction) string { return r.Emoji })
	emojis := lo.Keys(counts)
	sort.Slice(emojis, func(i, j int) bool {
		if counts[emojis[i]] != counts[emojis[j]] {
			return counts[emojis[i]] > counts[emojis[j]]
		}
		return emojis[i] < emojis[j]
	})
	if len(emojis) == 0 {
		return ""
	}
	return emojis[0]
}

// Boost is the confidence adjustment a summary earns, in [-0.1, 0.2].
func Boost(s *memory.ReactionSummary) float64 {
	if s == nil || s.TotalReactions == 0 {
		return 0
	}
	sentiment := s.SentimentScore * 0.1 * (0.5 + s.IntensityScore)
	volume := math.Min(0.1, math.Log10(float64(s.TotalReactions)+1)*0.05)
	return clamp(sentiment+volume-s.Controversy*0.05, minBoost, maxBoost)
}
