// Package reactions records emoji reactions on messages linked to memories
// and folds them into per-memory engagement summaries.
package reactions

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
)

// Reaction is one emoji reaction with sentiment precomputed by the capture
// collaborator.
type Reaction struct {
	ID        int64      `json:"id"`
	MessageID string     `json:"message_id"`
	ReactorID string     `json:"reactor_id"`
	Emoji     string     `json:"emoji"`
	Sentiment float64    `json:"sentiment"`
	Intensity float64    `json:"intensity"`
	Intent    string     `json:"intent,omitempty"`
	Relevance string     `json:"relevance,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// Store reads and writes the reaction and message link tables next to a
// memory store.
type Store struct {
	memories *memory.Store
	db       *sql.DB
	logger   zerolog.Logger
}

// NewStore creates a reaction store sharing the memory store's database.
func NewStore(memories *memory.Store, logger zerolog.Logger) *Store {
	return &Store{
		memories: memories,
		db:       memories.DB(),
		logger:   logger.With().Str("component", "reaction_store").Logger(),
	}
}

// LinkMessage records that messageID surfaced or produced memoryID, so
// reactions on the message count toward the memory.
func (s *Store) LinkMessage(ctx context.Context, messageID, memoryID string) error {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(memoryID) == "" {
		return fmt.Errorf("message id and memory id are required")
	}
	query := memory.StatementBuilder().
		Insert("message_memory_links").
		Columns("message_id", "memory_id", "created_at").
		Values(messageID, memoryID, s.memories.Now().Unix()).
		Suffix("ON CONFLICT(message_id, memory_id) DO NOTHING")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build link query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("failed to link message: %w", err)
	}
	s.logger.Debug().Str("method", "LinkMessage").Str("message_id", messageID).Str("memory_id", memoryID).Msg("Message linked")
	return nil
}

// AddReaction records r. Adding a reaction that is already active is a
// no-op. Sentiment is clamped to [-1,1] and intensity to [0,1].
func (s *Store) AddReaction(ctx context.Context, r Reaction) error {
	if r.MessageID == "" || r.ReactorID == "" || r.Emoji == "" {
		return fmt.Errorf("message id, reactor id and emoji are required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.memories.Now()
	}
	query := memory.StatementBuilder().
		Insert("reactions").
		Columns("message_id", "reactor_id", "emoji", "sentiment", "intensity", "intent", "relevance", "created_at").
		Values(r.MessageID, r.ReactorID, r.Emoji,
			clamp(r.Sentiment, -1, 1), clamp(r.Intensity, 0, 1), r.Intent, r.Relevance,
			r.CreatedAt.Unix()).
		Suffix("ON CONFLICT DO NOTHING")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build reaction query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}
	return nil
}

// RemoveReaction marks the active reaction as removed. It reports whether
// an active reaction existed.
func (s *Store) RemoveReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error) {
	query := memory.StatementBuilder().
		Update("reactions").
		Set("removed_at", s.memories.Now().Unix()).
		Where(sq.Eq{"message_id": messageID, "reactor_id": reactorID, "emoji": emoji, "removed_at": nil})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build remove query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return false, fmt.Errorf("failed to remove reaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// PendingMemories lists memories with reaction activity (added or removed)
// at or after their last aggregation, or never aggregated at all.
func (s *Store) PendingMemories(ctx context.Context, limit int) ([]string, error) {
	query := memory.StatementBuilder().
		Select("DISTINCT l.memory_id").
		From("message_memory_links l").
		Join("reactions r ON r.message_id = l.message_id").
		Join("memories m ON m.id = l.memory_id").
		Where(sq.Or{
			sq.Eq{"m.reaction_aggregated_at": nil},
			sq.Expr("MAX(r.created_at, COALESCE(r.removed_at, 0)) >= m.reaction_aggregated_at"),
		}).
		OrderBy("l.memory_id").
		Limit(uint64(limit))
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending memories: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan memory id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ActiveReactions returns the reactions not yet removed on every message
// linked to memoryID.
func (s *Store) ActiveReactions(ctx context.Context, memoryID string) ([]Reaction, error) {
	query := memory.StatementBuilder().
		Select("r.id", "r.message_id", "r.reactor_id", "r.emoji", "r.sentiment",
			"r.intensity", "r.intent", "r.relevance", "r.created_at").
		From("reactions r").
		Join("message_memory_links l ON l.message_id = r.message_id").
		Where(sq.Eq{"l.memory_id": memoryID, "r.removed_at": nil}).
		OrderBy("r.id")
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reactions query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Rows close error can be ignored

	var out []Reaction
	for rows.Next() {
		var (
			r         Reaction
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ReactorID, &r.Emoji, &r.Sentiment,
			&r.Intensity, &r.Intent, &r.Relevance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
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
