package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

var baseMemoryColumns = []string{
	"m.id", "m.owner_id", "m.summary", "m.raw_context", "m.memory_type",
	"m.embedding", "m.confidence", "m.retrieval_count", "m.source_count",
	"m.privacy_level", "m.origin_guild_id", "m.origin_channel_id",
	"m.content_hash", "m.created_at", "m.updated_at", "m.last_accessed_at",
}

var decayMemoryColumns = []string{"m.decay_policy", "m.is_protected", "m.decay_anchor_at"}

var reactionMemoryColumns = []string{
	"m.reaction_summary", "m.reaction_confidence_boost", "m.reaction_aggregated_at",
}

// SelectMemoryColumns returns the column list for SELECTs over memories
// aliased as "m", limited to the columns the schema actually has.
func SelectMemoryColumns(caps Capabilities) []string {
	cols := append([]string{}, baseMemoryColumns...)
	if caps.DecayColumns {
		cols = append(cols, decayMemoryColumns...)
	}
	if caps.Reactions {
		cols = append(cols, reactionMemoryColumns...)
	}
	return cols
}

// selectMemories starts a SELECT over memories with the capability-aware
// column list.
func selectMemories(caps Capabilities) sq.SelectBuilder {
	return StatementBuilder().Select(SelectMemoryColumns(caps)...).From("memories m")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory reads one row produced by selectMemories.
func scanMemory(row rowScanner, caps Capabilities) (*Memory, error) {
	var (
		m                                    Memory
		memType, level                       string
		embBlob                              []byte
		guildID, channelID                   sql.NullString
		createdAt, updatedAt, lastAccessedAt int64
		decayPolicy                          sql.NullString
		protected                            sql.NullInt64
		anchorAt                             sql.NullInt64
		reactionJSON                         sql.NullString
		reactionBoost                        sql.NullFloat64
		reactionAggregatedAt                 sql.NullInt64
	)
	dest := []any{
		&m.ID, &m.OwnerID, &m.Summary, &m.RawContext, &memType,
		&embBlob, &m.Confidence, &m.RetrievalCount, &m.SourceCount,
		&level, &guildID, &channelID,
		&m.ContentHash, &createdAt, &updatedAt, &lastAccessedAt,
	}
	if caps.DecayColumns {
		dest = append(dest, &decayPolicy, &protected, &anchorAt)
	}
	if caps.Reactions {
		dest = append(dest, &reactionJSON, &reactionBoost, &reactionAggregatedAt)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	m.Type = MemoryType(memType)
	m.PrivacyLevel = privacy.ParseLevel(level)
	m.OriginGuildID = guildID.String
	m.OriginChannelID = channelID.String
	m.CreatedAt = time.Unix(createdAt, 0).UTC()
	m.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	m.LastAccessedAt = time.Unix(lastAccessedAt, 0).UTC()

	emb, err := DecodeEmbedding(embBlob)
	if err != nil {
		return nil, fmt.Errorf("decode embedding for %s: %w", m.ID, err)
	}
	m.Embedding = emb

	m.DecayPolicy = DecayPolicyFor(m.Type, false)
	if caps.DecayColumns {
		if decayPolicy.Valid {
			m.DecayPolicy = DecayPolicy(decayPolicy.String)
		}
		m.IsProtected = protected.Int64 != 0
		m.DecayAnchorAt = unixPtr(anchorAt)
	}
	if caps.Reactions {
		m.ReactionConfidenceBoost = reactionBoost.Float64
		m.ReactionAggregatedAt = unixPtr(reactionAggregatedAt)
		if reactionJSON.Valid && reactionJSON.String != "" {
			var rs ReactionSummary
			if err := json.Unmarshal([]byte(reactionJSON.String), &rs); err != nil {
				return nil, fmt.Errorf("decode reaction summary for %s: %w", m.ID, err)
			}
			m.ReactionSummary = &rs
		}
	}
	return &m, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
