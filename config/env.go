package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/recall/memory"
)

type lookupFunc func(key string) (string, bool)

type envOverride struct {
	key   string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func boolean(dst func(c *Config) **bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = &b
		return nil
	}
}

func reinforcement(t memory.MemoryType, isCap bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if c.Reinforcement == nil {
			c.Reinforcement = make(map[string]memory.Reinforcement)
		}
		r := c.Reinforcement[string(t)]
		if isCap {
			r.Cap = f
		} else {
			r.Boost = f
		}
		c.Reinforcement[string(t)] = r
		return nil
	}
}

// envOverrides lists every RECALL_* variable. Provider variables such as
// OLLAMA_HOST are fallbacks and only apply when the config leaves the value
// empty.
var envOverrides = []envOverride{
	{"RECALL_SOCKET", str(func(c *Config) *string { return &c.Server.Socket })},
	{"RECALL_TCP", str(func(c *Config) *string { return &c.Server.TCP })},
	{"RECALL_DB_PATH", str(func(c *Config) *string { return &c.Database.Path })},
	{"RECALL_LOG_FILE", str(func(c *Config) *string { return &c.Log.File })},

	{"RECALL_EMBEDDER_PROVIDER", str(func(c *Config) *string { return &c.Embedder.Provider })},
	{"RECALL_EMBEDDER_MODEL", str(func(c *Config) *string { return &c.Embedder.Model })},
	{"RECALL_EMBEDDER_HOST", str(func(c *Config) *string { return &c.Embedder.Host })},
	{"RECALL_EMBEDDER_API_KEY", str(func(c *Config) *string { return &c.Embedder.APIKey })},
	{"RECALL_EMBEDDER_BASE_URL", str(func(c *Config) *string { return &c.Embedder.BaseURL })},
	{"RECALL_SUMMARIZER_PROVIDER", str(func(c *Config) *string { return &c.Summarizer.Provider })},
	{"RECALL_SUMMARIZER_MODEL", str(func(c *Config) *string { return &c.Summarizer.Model })},
	{"RECALL_SUMMARIZER_API_KEY", str(func(c *Config) *string { return &c.Summarizer.APIKey })},

	{"RECALL_TOP_K", integer(func(c *Config) *int { return &c.Retrieval.TopK })},
	{"RECALL_SIMILARITY_THRESHOLD", float(func(c *Config) *float64 { return &c.Retrieval.SimilarityThreshold })},
	{"RECALL_MERGE_THRESHOLD", float(func(c *Config) *float64 { return &c.Updater.MergeThreshold })},
	{"RECALL_ENABLE_HYBRID", boolean(func(c *Config) **bool { return &c.Retrieval.EnableHybrid })},
	{"RECALL_DEGRADE_ON_EMBED_ERROR", boolean(func(c *Config) **bool { return &c.Retrieval.DegradeOnEmbedError })},
	{"RECALL_RRF_K", float(func(c *Config) *float64 { return &c.Retrieval.RRFK })},
	{"RECALL_FUSION_WINDOW_MULTIPLIER", integer(func(c *Config) *int { return &c.Retrieval.FusionWindowMultiplier })},
	{"RECALL_REACTION_BOOST_WEIGHT", float(func(c *Config) *float64 { return &c.Retrieval.ReactionBoostWeight })},
	{"RECALL_REACTION_BOOST_CAP", float(func(c *Config) *float64 { return &c.Retrieval.ReactionBoostCap })},
	{"RECALL_MIN_CONFIDENCE", float(func(c *Config) *float64 { return &c.MinConfidence })},

	{"RECALL_DECAY_PERIOD_DAYS", float(func(c *Config) *float64 { return &c.Decay.PeriodDays })},
	{"RECALL_DECAY_BASE_RATE", float(func(c *Config) *float64 { return &c.Decay.BaseRate })},
	{"RECALL_DECAY_MAX_RATE", float(func(c *Config) *float64 { return &c.Decay.MaxRate })},
	{"RECALL_CLEANUP_THRESHOLD", float(func(c *Config) *float64 { return &c.Decay.CleanupThreshold })},
	{"RECALL_CLEANUP_MIN_AGE_DAYS", float(func(c *Config) *float64 { return &c.Decay.CleanupMinAgeDays })},
	{"RECALL_CONSOLIDATION_MIN_RETRIEVALS", integer(func(c *Config) *int { return &c.Decay.ConsolidationMinRetrievals })},

	{"RECALL_REINFORCE_SEMANTIC_BOOST", reinforcement(memory.MemoryTypeSemantic, false)},
	{"RECALL_REINFORCE_SEMANTIC_CAP", reinforcement(memory.MemoryTypeSemantic, true)},
	{"RECALL_REINFORCE_PROCEDURAL_BOOST", reinforcement(memory.MemoryTypeProcedural, false)},
	{"RECALL_REINFORCE_PROCEDURAL_CAP", reinforcement(memory.MemoryTypeProcedural, true)},
	{"RECALL_REINFORCE_EPISODIC_BOOST", reinforcement(memory.MemoryTypeEpisodic, false)},
	{"RECALL_REINFORCE_EPISODIC_CAP", reinforcement(memory.MemoryTypeEpisodic, true)},

	{"RECALL_DECAY_SCHEDULE", str(func(c *Config) *string { return &c.Jobs.DecaySchedule })},
	{"RECALL_AGGREGATION_SCHEDULE", str(func(c *Config) *string { return &c.Jobs.AggregationSchedule })},
}

// applyEnv applies RECALL_* overrides, then provider fallbacks.
func applyEnv(c *Config, lookup lookupFunc) error {
	var bad []string
	for _, o := range envOverrides {
		v, ok := lookup(o.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			bad = append(bad, fmt.Sprintf("%s=%q: %v", o.key, v, err))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(bad, "; "))
	}

	fallback := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	switch c.Embedder.Provider {
	case ProviderOpenAI:
		fallback(&c.Embedder.APIKey, "OPENAI_API_KEY")
		fallback(&c.Embedder.BaseURL, "OPENAI_BASE_URL")
	case ProviderOllama:
		fallback(&c.Embedder.Host, "OLLAMA_HOST")
	}
	switch c.Summarizer.Provider {
	case ProviderAnthropic:
		fallback(&c.Summarizer.APIKey, "ANTHROPIC_API_KEY")
	case ProviderOllama:
		fallback(&c.Summarizer.Host, "OLLAMA_HOST")
		fallback(&c.Summarizer.Model, "OLLAMA_MODEL")
	}
	return nil
}
