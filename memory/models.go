package memory

import (
	"time"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// MemoryType describes the kind of memory item.
type MemoryType string

const (
	MemoryTypeSemantic   MemoryType = "semantic"
	MemoryTypeEpisodic   MemoryType = "episodic"
	MemoryTypeProcedural MemoryType = "procedural"
)

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryTypeSemantic, MemoryTypeEpisodic, MemoryTypeProcedural:
		return true
	}
	return false
}

// DecayPolicy controls whether the decay engine may touch a memory.
type DecayPolicy string

const (
	DecayStandard        DecayPolicy = "standard"
	DecayNone            DecayPolicy = "none"
	DecayPendingDeletion DecayPolicy = "pending_deletion"
)

// DecayPolicyFor returns the policy a memory of the given type and
// protection state must carry.
func DecayPolicyFor(t MemoryType, protected bool) DecayPolicy {
	if t == MemoryTypeSemantic || protected {
		return DecayNone
	}
	return DecayStandard
}

// Memory is a single stored memory about an owner.
type Memory struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Summary    string     `json:"summary"`
	RawContext string     `json:"raw_context,omitempty"`
	Type       MemoryType `json:"memory_type"`
	Embedding  []float32  `json:"-"`

	Confidence     float64 `json:"confidence"`
	RetrievalCount int     `json:"retrieval_count"`
	SourceCount    int     `json:"source_count"`

	PrivacyLevel    privacy.Level `json:"privacy_level"`
	OriginGuildID   string        `json:"origin_guild_id,omitempty"`
	OriginChannelID string        `json:"origin_channel_id,omitempty"`
	ContentHash     string        `json:"-"`

	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	LastAccessedAt time.Time   `json:"last_accessed_at"`
	DecayPolicy    DecayPolicy `json:"decay_policy"`
	IsProtected    bool        `json:"is_protected"`
	DecayAnchorAt  *time.Time  `json:"-"`

	ReactionSummary         *ReactionSummary `json:"reaction_summary,omitempty"`
	ReactionConfidenceBoost float64          `json:"reaction_confidence_boost"`
	ReactionAggregatedAt    *time.Time       `json:"reaction_aggregated_at,omitempty"`
}

// Record returns the privacy-relevant view of m.
func (m *Memory) Record() privacy.Record {
	return privacy.Record{
		OwnerID:   m.OwnerID,
		Level:     m.PrivacyLevel,
		GuildID:   m.OriginGuildID,
		ChannelID: m.OriginChannelID,
	}
}

// EffectiveConfidence is the stored confidence adjusted by the reaction
// boost, clamped to [0,1].
func (m *Memory) EffectiveConfidence() float64 {
	return clamp(m.Confidence+m.ReactionConfidenceBoost, 0, 1)
}

// ReactionSummarySchemaVersion is bumped whenever ReactionSummary changes
// shape in a way readers must know about.
const ReactionSummarySchemaVersion = 1

// ReactionSummary is the aggregated engagement signal for a memory.
type ReactionSummary struct {
	SchemaVersion   int            `json:"schema_version"`
	TotalReactions  int            `json:"total_reactions"`
	UniqueReactors  int            `json:"unique_reactors"`
	SentimentScore  float64        `json:"sentiment_score"`
	IntensityScore  float64        `json:"intensity_score"`
	Controversy     float64        `json:"controversy_score"`
	IntentHistogram map[string]int `json:"intent_histogram,omitempty"`
	TopEmoji        string         `json:"top_emoji,omitempty"`
	LastAggregated  time.Time      `json:"last_aggregated"`
}

// Candidate is a fact produced by the external extraction step.
type Candidate struct {
	Summary           string     `json:"summary"`
	Type              MemoryType `json:"type"`
	SupportingContext string     `json:"supporting_context,omitempty"`
	Confidence        float64    `json:"confidence"`
	GloballySafeClaim bool       `json:"globally_safe_claim"`
}

// Claim converts the candidate into the classifier's input.
func (c Candidate) Claim() privacy.Claim {
	return privacy.Claim{
		Summary:      c.Summary,
		MemoryType:   string(c.Type),
		Confidence:   c.Confidence,
		GloballySafe: c.GloballySafeClaim,
	}
}

// Origin records where a fact was disclosed.
type Origin struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// OriginOf extracts the origin ids from a conversation context.
func OriginOf(c privacy.Context) Origin {
	return Origin{GuildID: c.GuildID, ChannelID: c.ChannelID}
}

// SearchResult is a retrieved memory with its final ranking score.
type SearchResult struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// UpdateAction reports what the updater did with a candidate.
type UpdateAction string

const (
	ActionAdded  UpdateAction = "added"
	ActionMerged UpdateAction = "merged"
)

// UpdateResult is the outcome of Updater.Update.
type UpdateResult struct {
	MemoryID   string        `json:"memory_id"`
	Action     UpdateAction  `json:"action"`
	Level      privacy.Level `json:"privacy_level"`
	Similarity float64       `json:"similarity,omitempty"`
}
