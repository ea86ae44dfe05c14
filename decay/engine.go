// Package decay ages memory confidence for memories that go unused, flags
// the weakest for cleanup and surfaces episodic memories worth promoting.
package decay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/recall/memory"
)

const day = 24 * time.Hour

// Config tunes the decay engine. Zero values take defaults.
type Config struct {
	PeriodDays float64 `yaml:"period_days"`
	BaseRate   float64 `yaml:"base_rate"`
	MaxRate    float64 `yaml:"max_rate"`
	// RetrievalSaturation is the retrieval count at which MaxRate applies.
	RetrievalSaturation int     `yaml:"retrieval_saturation"`
	MinConfidence       float64 `yaml:"min_confidence"`

	CleanupThreshold  float64 `yaml:"cleanup_threshold"`
	CleanupMinAgeDays float64 `yaml:"cleanup_min_age_days"`

	ConsolidationMinRetrievals int     `yaml:"consolidation_min_retrievals"`
	ConsolidationMinConfidence float64 `yaml:"consolidation_min_confidence"`
	ConsolidationLimit         int     `yaml:"consolidation_limit"`

	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig returns the decay defaults.
func DefaultConfig() Config {
	return Config{
		PeriodDays:                 30,
		BaseRate:                   0.9,
		MaxRate:                    0.98,
		RetrievalSaturation:        10,
		MinConfidence:              0.1,
		CleanupThreshold:           0.15,
		CleanupMinAgeDays:          30,
		ConsolidationMinRetrievals: 5,
		ConsolidationMinConfidence: 0.6,
		ConsolidationLimit:         50,
		BatchSize:                  200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PeriodDays <= 0 {
		c.PeriodDays = d.PeriodDays
	}
	if c.BaseRate <= 0 {
		c.BaseRate = d.BaseRate
	}
	if c.MaxRate <= 0 {
		c.MaxRate = d.MaxRate
	}
	if c.MaxRate < c.BaseRate {
		c.MaxRate = c.BaseRate
	}
	if c.RetrievalSaturation <= 0 {
		c.RetrievalSaturation = d.RetrievalSaturation
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.CleanupThreshold <= 0 {
		c.CleanupThreshold = d.CleanupThreshold
	}
	if c.CleanupMinAgeDays <= 0 {
		c.CleanupMinAgeDays = d.CleanupMinAgeDays
	}
	if c.ConsolidationMinRetrievals <= 0 {
		c.ConsolidationMinRetrievals = d.ConsolidationMinRetrievals
	}
	if c.ConsolidationMinConfidence <= 0 {
		c.ConsolidationMinConfidence = d.ConsolidationMinConfidence
	}
	if c.ConsolidationLimit <= 0 {
		c.ConsolidationLimit = d.ConsolidationLimit
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// Period is the decay period as a duration.
func (c Config) Period() time.Duration {
	return time.Duration(c.PeriodDays * float64(day))
}

// Rate returns the per-period multiplier for a memory retrieved
// retrievalCount times. Frequently retrieved memories decay slower.
func (c Config) Rate(retrievalCount int) float64 {
	usage := math.Min(1, float64(max(retrievalCount, 0))/float64(c.RetrievalSaturation))
	return c.BaseRate + (c.MaxRate-c.BaseRate)*usage
}

// Decayed applies periods of decay to confidence, never going below the
// floor and never raising a value that already sits below it.
func (c Config) Decayed(confidence float64, retrievalCount, periods int) float64 {
	if periods <= 0 || confidence <= c.MinConfidence {
		return confidence
	}
	next := confidence * math.Pow(c.Rate(retrievalCount), float64(periods))
	return math.Max(c.MinConfidence, next)
}

// RunStats summarizes one pass.
type RunStats struct {
	Scanned    int           `json:"scanned"`
	Updated    int           `json:"updated"`
	Failed     int           `json:"failed"`
	Flagged    int64         `json:"flagged"`
	Candidates []string      `json:"candidates,omitempty"`
	Skipped    bool          `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Engine runs decay passes over a memory store.
type Engine struct {
	store  *memory.Store
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a decay engine.
func NewEngine(store *memory.Store, cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "decay_engine").Logger(),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run performs one pass: decay, cleanup flagging, then consolidation
// candidate discovery. Per-memory failures are counted and the pass goes on;
// a failed step is logged and the remaining steps still run. When the
// store lacks decay columns the pass is a no-op.
func (e *Engine) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	var stats RunStats
	if !e.store.Capabilities(ctx).DecayColumns {
		e.logger.Warn().Str("method", "Run").Msg("Decay columns unavailable, skipping pass")
		stats.Skipped = true
		return stats, nil
	}

	now := e.store.Now()
	var errs []error
	if err := e.decay(ctx, now, &stats); err != nil {
		errs = append(errs, fmt.Errorf("decay: %w", err))
	}

	flagged, err := e.store.FlagForCleanup(ctx, e.cfg.CleanupThreshold, now.Add(-time.Duration(e.cfg.CleanupMinAgeDays*float64(day))))
	if err != nil {
		errs = append(errs, fmt.Errorf("cleanup: %w", err))
	}
	stats.Flagged = flagged

	candidates, err := e.store.ConsolidationCandidates(ctx, e.cfg.ConsolidationMinRetrievals, e.cfg.ConsolidationMinConfidence, e.cfg.ConsolidationLimit)
	if err != nil {
		errs = append(errs, fmt.Errorf("consolidation: %w", err))
	}
	stats.Candidates = lo.Map(candidates, func(m *memory.Memory, _ int) string { return m.ID })

	stats.Duration = time.Since(start)
	evt := e.logger.Info()
	if len(errs) > 0 {
		evt = e.logger.Error().Err(errors.Join(errs...))
	}
	evt.Str("method", "Run").
		Int("scanned", stats.Scanned).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Int64("flagged", stats.Flagged).
		Int("candidates", len(stats.Candidates)).
		Dur("duration", stats.Duration).
		Msg("Decay pass complete")
	return stats, errors.Join(errs...)
}

// decay pages through eligible memories by id. Each memory's anchor is the
// later of its last access and the point decay was last applied through,
// so a rerun within the same period changes nothing.
func (e *Engine) decay(ctx context.Context, now time.Time, stats *RunStats) error {
	period := e.cfg.Period()
	cutoff := now.Add(-period)
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := e.store.ListDecayable(ctx, cutoff, e.cfg.MinConfidence, afterID, e.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, m := range batch {
			stats.Scanned++
			anchor := m.LastAccessedAt
			if m.DecayAnchorAt != nil && m.DecayAnchorAt.After(anchor) {
				anchor = *m.DecayAnchorAt
			}
			periods := int(now.Sub(anchor) / period)
			if periods <= 0 {
				continue
			}
			next := e.cfg.Decayed(m.Confidence, m.RetrievalCount, periods)
			changed, err := e.store.ApplyDecay(ctx, m.ID, next, anchor.Add(time.Duration(periods)*period))
			if err != nil {
				stats.Failed++
				e.logger.Warn().Err(err).Str("memory_id", m.ID).Msg("Failed to decay memory")
				continue
			}
			if changed {
				stats.Updated++
			}
		}
		if len(batch) < e.cfg.BatchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}
