package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// Store manages memory persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time

	capsMu sync.Mutex
	caps   *Capabilities
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger, opts ...StoreOption) *Store {
	logger = logger.With().Str("component", "memory_store").Logger()
	s := &Store{db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for packages that own adjacent tables.
func (s *Store) DB() *sql.DB { return s.db }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now().UTC() }

// ContentHash identifies a fact for idempotent adds. Two candidates with the
// same normalized summary at the same level and scope hash equal.
func ContentHash(level privacy.Level, origin Origin, summary string) string {
	h := sha256.New()
	h.Write([]byte(level))
	h.Write([]byte{0})
	h.Write([]byte(scopeKey(level, origin)))
	h.Write([]byte{0})
	h.Write([]byte(normalizeSummary(summary)))
	return hex.EncodeToString(h.Sum(nil))
}

func scopeKey(level privacy.Level, origin Origin) string {
	switch level {
	case privacy.LevelChannelRestricted:
		return origin.ChannelID
	case privacy.LevelGuildPublic:
		return origin.GuildID
	default:
		return ""
	}
}

func normalizeSummary(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.TrimRight(s, ".!?;, ")
}

// Insert adds m, or folds it into the existing row with the same owner and
// content hash. It returns the stored id and whether a new row was created.
// Fields left empty on m (id, timestamps, hash, decay policy) are filled in.
func (s *Store) Insert(ctx context.Context, m *Memory) (string, bool, error) {
	s.logger.Debug().
		Str("method", "Insert").
		Str("owner_id", m.OwnerID).
		Str("summary", truncateString(m.Summary, 40)).
		Str("privacy_level", string(m.PrivacyLevel)).
		Msg("called")

	if strings.TrimSpace(m.Summary) == "" {
		return "", false, newError(ErrorKindInput, "Insert", "summary", ErrEmptyContent)
	}
	if strings.TrimSpace(m.OwnerID) == "" {
		return "", false, newError(ErrorKindInput, "Insert", "owner id is empty", nil)
	}
	if !m.PrivacyLevel.Valid() {
		m.PrivacyLevel = privacy.LevelChannelRestricted
	}
	if !m.Type.Valid() {
		m.Type = MemoryTypeEpisodic
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ContentHash == "" {
		m.ContentHash = ContentHash(m.PrivacyLevel, Origin{GuildID: m.OriginGuildID, ChannelID: m.OriginChannelID}, m.Summary)
	}
	if m.SourceCount < 1 {
		m.SourceCount = 1
	}
	ts := s.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ts
	}
	m.UpdatedAt = ts
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = ts
	}
	m.DecayPolicy = DecayPolicyFor(m.Type, m.IsProtected)

	caps := s.Capabilities(ctx)
	cols := []string{
		"id", "owner_id", "summary", "raw_context", "memory_type", "embedding",
		"confidence", "retrieval_count", "source_count", "privacy_level",
		"origin_guild_id", "origin_channel_id", "content_hash",
		"created_at", "updated_at", "last_accessed_at",
	}
	vals := []any{
		m.ID, m.OwnerID, m.Summary, m.RawContext, string(m.Type), EncodeEmbedding(m.Embedding),
		m.Confidence, m.RetrievalCount, m.SourceCount, string(m.PrivacyLevel),
		nullString(m.OriginGuildID), nullString(m.OriginChannelID), m.ContentHash,
		m.CreatedAt.Unix(), m.UpdatedAt.Unix(), m.LastAccessedAt.Unix(),
	}
	onConflict := []string{
		"source_count = memories.source_count + 1",
		"confidence = MAX(memories.confidence, excluded.confidence)",
		"updated_at = excluded.updated_at",
		// A row added while the embedder was down picks up the first embedding it is resubmitted with.
		"embedding = COALESCE(memories.embedding, excluded.embedding)",
	}
	if caps.DecayColumns {
		cols = append(cols, "decay_policy", "is_protected")
		vals = append(vals, string(m.DecayPolicy), m.IsProtected)
		// A repeated fact revives a memory that was flagged for cleanup.
		onConflict = append(onConflict,
			"decay_policy = CASE WHEN memories.decay_policy = 'pending_deletion' THEN excluded.decay_policy ELSE memories.decay_policy END")
	}

	query := StatementBuilder().
		Insert("memories").
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT(owner_id, content_hash) DO UPDATE SET " + strings.Join(onConflict, ", ") + " RETURNING id, source_count")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build insert query: %w", err)
	}

	var (
		id          string
		sourceCount int
	)
	if err := s.db.QueryRowContext(ctx, queryStr, args...).Scan(&id, &sourceCount); err != nil {
		s.logger.Error().
			Str("method", "Insert").
			Err(err).
			Msg("Failed to upsert memory")
		return "", false, newError(ErrorKindStorage, "Insert", "upsert memory", err)
	}

	inserted := id == m.ID
	if !inserted {
		m.ID = id
		m.SourceCount = sourceCount
	}
	s.logger.Info().
		Str("method", "Insert").
		Str("memory_id", id).
		Str("owner_id", m.OwnerID).
		Bool("inserted", inserted).
		Int("source_count", sourceCount).
		Msg("Memory stored")
	return id, inserted, nil
}

// Get loads a single memory by id.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	caps := s.Capabilities(ctx)
	queryStr, args, err := selectMemories(caps).Where(sq.Eq{"m.id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	m, err := scanMemory(s.db.QueryRowContext(ctx, queryStr, args...), caps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, newError(ErrorKindStorage, "Get", "load memory", err)
	}
	return m, nil
}

// ListByOwner returns every memory owned by ownerID, newest first. It is
// an administrative view and applies no privacy scope.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	caps := s.Capabilities(ctx)
	query := selectMemories(caps).
		Where(sq.Eq{"m.owner_id": ownerID}).
		OrderBy("m.updated_at DESC", "m.id").
		Limit(uint64(limit))
	return s.queryMemories(ctx, query, caps)
}

func (s *Store) queryMemories(ctx context.Context, query sq.SelectBuilder, caps Capabilities) ([]*Memory, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, newError(ErrorKindStorage, "query", "select memories", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*Memory
	for rows.Next() {
		m, err := scanMemory(rows, caps)
		if err != nil {
			return nil, newError(ErrorKindStorage, "query", "scan memory", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, newError(ErrorKindStorage, "query", "iterate memories", err)
	}
	return out, nil
}

// ApplyMerge writes consolidated content into an existing memory. The
// memory's confidence is raised to at least minConfidence and its source
// count incremented.
func (s *Store) ApplyMerge(ctx context.Context, id string, res MergeResult, embedding []float32, minConfidence float64) error {
	s.logger.Debug().
		Str("method", "ApplyMerge").
		Str("memory_id", id).
		Str("summary", truncateString(res.Summary, 40)).
		Msg("called")

	query := StatementBuilder().
		Update("memories").
		Set("summary", res.Summary).
		Set("raw_context", res.RawContext).
		Set("embedding", EncodeEmbedding(embedding)).
		Set("source_count", sq.Expr("source_count + 1")).
		Set("confidence", sq.Expr("MAX(confidence, ?)", minConfidence)).
		Set("updated_at", s.Now().Unix()).
		Where(sq.Eq{"id": id})

	return s.execOne(ctx, "ApplyMerge", query)
}

// Reinforce records a retrieval of each memory: retrieval_count is bumped,
// last_accessed_at set to now, and confidence moved toward the type's cap.
// Memories already at or above the cap keep their confidence.
func (s *Store) Reinforce(ctx context.Context, memories []*Memory, policy map[MemoryType]Reinforcement) error {
	if len(memories) == 0 {
		return nil
	}
	ts := s.Now().Unix()
	byType := lo.GroupBy(memories, func(m *Memory) MemoryType { return m.Type })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newError(ErrorKindStorage, "Reinforce", "begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for typ, group := range byType {
		r, ok := policy[typ]
		if !ok {
			r = Reinforcement{Cap: 1}
		}
		ids := lo.Map(group, func(m *Memory, _ int) string { return m.ID })
		query := StatementBuilder().
			Update("memories").
			Set("retrieval_count", sq.Expr("retrieval_count + 1")).
			Set("last_accessed_at", ts).
			Set("confidence", sq.Expr(
				"CASE WHEN confidence >= ? THEN confidence ELSE MIN(?, confidence + ? * (? - confidence)) END",
				r.Cap, r.Cap, r.Boost, r.Cap)).
			Where(sq.Eq{"id": ids})
		queryStr, args, err := query.ToSql()
		if err != nil {
			return fmt.Errorf("build reinforce query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, queryStr, args...); err != nil {
			return newError(ErrorKindStorage, "Reinforce", "update memories", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return newError(ErrorKindStorage, "Reinforce", "commit", err)
	}
	return nil
}

// PromoteToSemantic turns a consolidation candidate into a semantic memory,
// which takes it out of decay.
func (s *Store) PromoteToSemantic(ctx context.Context, id string) error {
	query := StatementBuilder().
		Update("memories").
		Set("memory_type", string(MemoryTypeSemantic)).
		Set("updated_at", s.Now().Unix()).
		Where(sq.Eq{"id": id})
	if s.Capabilities(ctx).DecayColumns {
		query = query.Set("decay_policy", string(DecayNone))
	}
	if err := s.execOne(ctx, "PromoteToSemantic", query); err != nil {
		return err
	}
	s.logger.Info().Str("method", "PromoteToSemantic").Str("memory_id", id).Msg("Memory promoted to semantic")
	return nil
}

// SetProtected toggles protection on one of ownerID's memories. Protected
// memories never decay; unprotecting restores the type's default policy.
func (s *Store) SetProtected(ctx context.Context, ownerID, id string, protected bool) error {
	if !s.Capabilities(ctx).DecayColumns {
		return newError(ErrorKindCapability, "SetProtected", "decay columns unavailable", nil)
	}
	policy := sq.Expr("CASE WHEN ? OR memory_type = 'semantic' THEN 'none' ELSE 'standard' END", protected)
	query := StatementBuilder().
		Update("memories").
		Set("is_protected", protected).
		Set("decay_policy", policy).
		Set("updated_at", s.Now().Unix()).
		Where(sq.Eq{"id": id, "owner_id": ownerID})
	return s.execOne(ctx, "SetProtected", query)
}

// SetReactionSummary stores an aggregated engagement summary and its
// confidence boost. A nil summary clears both.
func (s *Store) SetReactionSummary(ctx context.Context, id string, summary *ReactionSummary, boost float64) error {
	if !s.Capabilities(ctx).Reactions {
		return newError(ErrorKindCapability, "SetReactionSummary", "reaction columns unavailable", nil)
	}
	ts := s.Now().Unix()
	var blob any
	if summary != nil {
		summary.SchemaVersion = ReactionSummarySchemaVersion
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("marshal reaction summary: %w", err)
		}
		blob = string(b)
	} else {
		boost = 0
	}
	query := StatementBuilder().
		Update("memories").
		Set("reaction_summary", blob).
		Set("reaction_confidence_boost", boost).
		Set("reaction_aggregated_at", ts).
		Where(sq.Eq{"id": id})
	return s.execOne(ctx, "SetReactionSummary", query)
}

// execOne runs an UPDATE that must touch exactly one row.
func (s *Store) execOne(ctx context.Context, method string, query sq.UpdateBuilder) error {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", method, err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", method).Err(err).Msg("Update failed")
		return newError(ErrorKindStorage, method, "update memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newError(ErrorKindStorage, method, "rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// truncateString shortens s for log output.
func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
