package memory

import "time"

// Reinforcement is the per-type confidence bump applied on retrieval.
// Confidence moves Boost of the way toward Cap and never past it.
type Reinforcement struct {
	Boost float64 `yaml:"boost"`
	Cap   float64 `yaml:"cap"`
}

// Config holds the tunables for retrieval and update.
type Config struct {
	TopK                   int
	SimilarityThreshold    float64
	MergeThreshold         float64
	EnableHybrid           bool
	RRFK                   float64
	FusionWindowMultiplier int
	ReactionBoostWeight    float64
	ReactionBoostCap       float64
	MinConfidence          float64
	// DegradeOnEmbedError selects lexical-only retrieval when the query
	// embedding fails. When false the retrieval fails instead.
	DegradeOnEmbedError bool
	Reinforcement       map[MemoryType]Reinforcement
	EmbedTimeout        time.Duration
	SummarizeTimeout    time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TopK:                   5,
		SimilarityThreshold:    0.3,
		MergeThreshold:         0.85,
		EnableHybrid:           true,
		RRFK:                   60,
		FusionWindowMultiplier: 4,
		ReactionBoostWeight:    0.1,
		ReactionBoostCap:       0.15,
		MinConfidence:          0.1,
		DegradeOnEmbedError:    true,
		Reinforcement: map[MemoryType]Reinforcement{
			MemoryTypeSemantic:   {Boost: 0.05, Cap: 0.99},
			MemoryTypeProcedural: {Boost: 0.03, Cap: 0.95},
			MemoryTypeEpisodic:   {Boost: 0.02, Cap: 0.85},
		},
		EmbedTimeout:     10 * time.Second,
		SummarizeTimeout: 30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = d.MergeThreshold
	}
	if c.RRFK <= 0 {
		c.RRFK = d.RRFK
	}
	if c.FusionWindowMultiplier <= 1 {
		c.FusionWindowMultiplier = d.FusionWindowMultiplier
	}
	if c.ReactionBoostWeight <= 0 {
		c.ReactionBoostWeight = d.ReactionBoostWeight
	}
	if c.ReactionBoostCap <= 0 {
		c.ReactionBoostCap = d.ReactionBoostCap
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = d.EmbedTimeout
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = d.SummarizeTimeout
	}
	merged := make(map[MemoryType]Reinforcement, len(d.Reinforcement))
	for t, r := range d.Reinforcement {
		merged[t] = r
	}
	for t, r := range c.Reinforcement {
		if r.Cap > 0 {
			merged[t] = r
		}
	}
	c.Reinforcement = merged
	return c
}

// ConfidenceCap is the highest confidence a memory of type t may hold.
func (c Config) ConfidenceCap(t MemoryType) float64 {
	if r, ok := c.Reinforcement[t]; ok && r.Cap > 0 {
		return r.Cap
	}
	return 1
}
