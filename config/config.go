package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/backscratcher/recall/decay"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/reactions"
)

// Embedding and summarizer providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

// ServerConfig holds the listener settings for recalld.
type ServerConfig struct {
	Socket string `yaml:"socket,omitempty"` // Unix socket path (default: /tmp/recalld.sock)
	TCP    string `yaml:"tcp,omitempty"`    // TCP address (e.g., localhost:50061)
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LogConfig controls logger output.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider   string `yaml:"provider,omitempty"` // "ollama" or "openai"
	Model      string `yaml:"model,omitempty"`
	Host       string `yaml:"host,omitempty"` // Ollama host
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	Timeout    int    `yaml:"timeout,omitempty"` // seconds
}

// SummarizerConfig selects and configures the merge summarizer.
type SummarizerConfig struct {
	Provider  string `yaml:"provider,omitempty"` // "anthropic", "ollama" or "none"
	Model     string `yaml:"model,omitempty"`
	Host      string `yaml:"host,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"` // seconds
}

// RetrievalConfig tunes ranking. Nil booleans take their defaults.
type RetrievalConfig struct {
	TopK                   int     `yaml:"top_k,omitempty"`
	SimilarityThreshold    float64 `yaml:"similarity_threshold,omitempty"`
	EnableHybrid           *bool   `yaml:"enable_hybrid,omitempty"`
	RRFK                   float64 `yaml:"rrf_k,omitempty"`
	FusionWindowMultiplier int     `yaml:"fusion_window_multiplier,omitempty"`
	ReactionBoostWeight    float64 `yaml:"reaction_boost_weight,omitempty"`
	ReactionBoostCap       float64 `yaml:"reaction_boost_cap,omitempty"`
	DegradeOnEmbedError    *bool   `yaml:"degrade_on_embed_error,omitempty"`
}

// UpdaterConfig tunes the add-versus-merge decision.
type UpdaterConfig struct {
	MergeThreshold float64 `yaml:"merge_threshold,omitempty"`
}

// JobsConfig schedules the background jobs. Schedules accept cron
// expressions or Go durations; "off" leaves the job to manual runs.
type JobsConfig struct {
	DecaySchedule       string `yaml:"decay_schedule,omitempty"`
	AggregationSchedule string `yaml:"aggregation_schedule,omitempty"`
	Timeout             int    `yaml:"timeout,omitempty"` // seconds per run
}

// Config is the recalld configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server,omitempty"`
	Database   DatabaseConfig   `yaml:"database,omitempty"`
	Log        LogConfig        `yaml:"log,omitempty"`
	Embedder   EmbedderConfig   `yaml:"embedder,omitempty"`
	Summarizer SummarizerConfig `yaml:"summarizer,omitempty"`

	// MinConfidence is the confidence floor shared by updates and decay.
	MinConfidence float64                         `yaml:"min_confidence,omitempty"`
	Retrieval     RetrievalConfig                 `yaml:"retrieval,omitempty"`
	Updater       UpdaterConfig                   `yaml:"updater,omitempty"`
	Reinforcement map[string]memory.Reinforcement `yaml:"reinforcement,omitempty"`
	Decay         decay.Config                    `yaml:"decay,omitempty"`
	Reactions     reactions.Config                `yaml:"reactions,omitempty"`
	Jobs          JobsConfig                      `yaml:"jobs,omitempty"`
}

// Defaults returns the compiled-in configuration.
func Defaults() Config {
	mem := memory.DefaultConfig()
	reinforcement := make(map[string]memory.Reinforcement, len(mem.Reinforcement))
	for t, r := range mem.Reinforcement {
		reinforcement[string(t)] = r
	}
	cfg := Config{
		Database: DatabaseConfig{Path: "~/.recall/recall.db"},
		Log:      LogConfig{File: "recall.log"},
		Embedder: EmbedderConfig{
			Provider: ProviderOllama,
			Model:    "mxbai-embed-large",
			Host:     "http://localhost:11434",
			Timeout:  int(mem.EmbedTimeout / time.Second),
		},
		Summarizer: SummarizerConfig{
			Provider:  ProviderNone,
			MaxTokens: 256,
			Timeout:   int(mem.SummarizeTimeout / time.Second),
		},
		MinConfidence: mem.MinConfidence,
		Retrieval: RetrievalConfig{
			TopK:                   mem.TopK,
			SimilarityThreshold:    mem.SimilarityThreshold,
			RRFK:                   mem.RRFK,
			FusionWindowMultiplier: mem.FusionWindowMultiplier,
			ReactionBoostWeight:    mem.ReactionBoostWeight,
			ReactionBoostCap:       mem.ReactionBoostCap,
		},
		Updater:       UpdaterConfig{MergeThreshold: mem.MergeThreshold},
		Reinforcement: reinforcement,
		Decay:         decay.DefaultConfig(),
		Reactions:     reactions.DefaultConfig(),
		Jobs: JobsConfig{
			DecaySchedule:       "@every 6h",
			AggregationSchedule: "@every 5m",
			Timeout:             600,
		},
	}
	cfg.Server.Socket = "/tmp/recalld.sock"
	return cfg
}

// GetConfigPath returns the default config file path.
// Can be overridden via RECALL_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("RECALL_CONFIG_PATH"); envPath != "" {
		return ExpandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.recall/config.yaml"
	}
	return filepath.Join(homeDir, ".recall", "config.yaml")
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the config file at path (missing file means defaults), merges
// it onto the defaults, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := ExpandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	expandedPath := ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var problems []string
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,1], got %v", name, v))
		}
	}
	unit("min_confidence", c.MinConfidence)
	unit("retrieval.similarity_threshold", c.Retrieval.SimilarityThreshold)
	unit("updater.merge_threshold", c.Updater.MergeThreshold)
	unit("decay.cleanup_threshold", c.Decay.CleanupThreshold)
	unit("retrieval.reaction_boost_cap", c.Retrieval.ReactionBoostCap)
	if c.Decay.BaseRate <= 0 || c.Decay.BaseRate > 1 || c.Decay.MaxRate <= 0 || c.Decay.MaxRate > 1 {
		problems = append(problems, fmt.Sprintf("decay rates must be within (0,1], got base=%v max=%v", c.Decay.BaseRate, c.Decay.MaxRate))
	}
	if c.Decay.BaseRate > c.Decay.MaxRate {
		problems = append(problems, fmt.Sprintf("decay.base_rate %v exceeds decay.max_rate %v", c.Decay.BaseRate, c.Decay.MaxRate))
	}
	if c.Decay.PeriodDays <= 0 {
		problems = append(problems, "decay.period_days must be positive")
	}
	if c.Retrieval.TopK < 0 || c.Retrieval.RRFK < 0 {
		problems = append(problems, "retrieval.top_k and retrieval.rrf_k must not be negative")
	}
	for t, r := range c.Reinforcement {
		if !memory.MemoryType(t).Valid() {
			problems = append(problems, fmt.Sprintf("reinforcement: unknown memory type %q", t))
			continue
		}
		if r.Boost < 0 || r.Boost > 1 || r.Cap <= 0 || r.Cap > 1 {
			problems = append(problems, fmt.Sprintf("reinforcement.%s: boost must be within [0,1] and cap within (0,1]", t))
		}
	}
	switch c.Embedder.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		problems = append(problems, fmt.Sprintf("embedder.provider must be %q or %q, got %q", ProviderOllama, ProviderOpenAI, c.Embedder.Provider))
	}
	switch c.Summarizer.Provider {
	case ProviderAnthropic, ProviderOllama, ProviderNone, "":
	default:
		problems = append(problems, fmt.Sprintf("summarizer.provider must be %q, %q or %q, got %q", ProviderAnthropic, ProviderOllama, ProviderNone, c.Summarizer.Provider))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ToMemoryConfig maps the file config onto the retriever and updater config.
func (c *Config) ToMemoryConfig() memory.Config {
	mc := memory.DefaultConfig()
	mc.TopK = c.Retrieval.TopK
	mc.SimilarityThreshold = c.Retrieval.SimilarityThreshold
	mc.MergeThreshold = c.Updater.MergeThreshold
	mc.RRFK = c.Retrieval.RRFK
	mc.FusionWindowMultiplier = c.Retrieval.FusionWindowMultiplier
	mc.ReactionBoostWeight = c.Retrieval.ReactionBoostWeight
	mc.ReactionBoostCap = c.Retrieval.ReactionBoostCap
	mc.MinConfidence = c.MinConfidence
	if c.Retrieval.EnableHybrid != nil {
		mc.EnableHybrid = *c.Retrieval.EnableHybrid
	}
	if c.Retrieval.DegradeOnEmbedError != nil {
		mc.DegradeOnEmbedError = *c.Retrieval.DegradeOnEmbedError
	}
	for t, r := range c.Reinforcement {
		mc.Reinforcement[memory.MemoryType(t)] = r
	}
	if c.Embedder.Timeout > 0 {
		mc.EmbedTimeout = time.Duration(c.Embedder.Timeout) * time.Second
	}
	if c.Summarizer.Timeout > 0 {
		mc.SummarizeTimeout = time.Duration(c.Summarizer.Timeout) * time.Second
	}
	return mc
}

// ToDecayConfig returns the decay engine config with the shared floor.
func (c *Config) ToDecayConfig() decay.Config {
	dc := c.Decay
	dc.MinConfidence = c.MinConfidence
	return dc
}

// ToReactionConfig returns the aggregator config.
func (c *Config) ToReactionConfig() reactions.Config {
	return c.Reactions
}

// ScheduleOff disables a job's schedule.
const ScheduleOff = "off"

// Schedule returns spec, or "" when it is ScheduleOff.
func Schedule(spec string) string {
	if strings.EqualFold(strings.TrimSpace(spec), ScheduleOff) {
		return ""
	}
	return spec
}

// JobTimeout is the per-run bound for background jobs.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.Timeout) * time.Second
}
