package reactions

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

// Config tunes the aggregator. Zero values take defaults.
type Config struct {
	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig returns the aggregator defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 500}
}

// RunStats summarizes one aggregation pass.
type RunStats struct {
	Scanned  int           `json:"scanned"`
	Updated  int           `json:"updated"`
	Cleared  int           `json:"cleared"`
	Failed   int           `json:"failed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Aggregator refreshes reaction summaries for memories with new activity.
type Aggregator struct {
	memories  *memory.Store
	reactions *Store
	cfg       Config
	logger    zerolog.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(memories *memory.Store, reactions *Store, cfg Config, logger zerolog.Logger) *Aggregator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Aggregator{
		memories:  memories,
		reactions: reactions,
		cfg:       cfg,
		logger:    logger.With().Str("component", "reaction_aggregator").Logger(),
	}
}

// Run performs one pass over up to BatchSize pending memories. Errors on
// a single memory are logged and counted; only a failure to list pending
// memories fails the pass.
func (a *Aggregator) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	var stats RunStats
	if !a.memories.Capabilities(ctx).Reactions {
		a.logger.Warn().Str("method", "Run").Msg("Reaction tables unavailable, skipping pass")
		stats.Skipped = true
		return stats, nil
	}

	ids, err := a.reactions.PendingMemories(ctx, a.cfg.BatchSize)
	if err != nil {
		a.logger.Error().Err(err).Str("method", "Run").Msg("Failed to list pending memories")
		return stats, fmt.Errorf("list pending memories: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.Scanned++
		cleared, err := a.aggregate(ctx, id)
		switch {
		case err != nil:
			stats.Failed++
			a.logger.Warn().Err(err).Str("memory_id", id).Msg("Failed to aggregate reactions")
		case cleared:
			stats.Cleared++
		default:
			stats.Updated++
		}
	}

	stats.Duration = time.Since(start)
	a.logger.Info().
		Str("method", "Run").
		Int("scanned", stats.Scanned).
		Int("updated", stats.Updated).
		Int("cleared", stats.Cleared).
		Int("failed", stats.Failed).
		Dur("duration", stats.Duration).
		Msg("Reaction aggregation complete")
	return stats, nil
}

func (a *Aggregator) aggregate(ctx context.Context, id string) (bool, error) {
	active, err := a.reactions.ActiveReactions(ctx, id)
	if err != nil {
		return false, err
	}
	summary := Summarize(active, a.memories.Now())
	if err := a.memories.SetReactionSummary(ctx, id, summary, Boost(summary)); err != nil {
		return false, err
	}
	return summary == nil, nil
}
