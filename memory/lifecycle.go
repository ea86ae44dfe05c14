package memory

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// decayable restricts a query to memories the decay engine may touch.
func decayable() sq.And {
	return sq.And{
		sq.Eq{"m.decay_policy": string(DecayStandard), "m.is_protected": false},
		sq.NotEq{"m.memory_type": string(MemoryTypeSemantic)},
	}
}

// ListDecayable returns up to limit standard, unprotected, non-semantic
// memories above floor whose decay anchor (the later of last access and the
// last applied decay period) is before cutoff. Results are ordered by id and
// start after afterID so callers can page.
func (s *Store) ListDecayable(ctx context.Context, cutoff time.Time, floor float64, afterID string, limit int) ([]*Memory, error) {
	caps := s.Capabilities(ctx)
	if !caps.DecayColumns {
		return nil, newError(ErrorKindCapability, "ListDecayable", "decay columns unavailable", nil)
	}
	query := selectMemories(caps).
		Where(decayable()).
		Where(sq.Gt{"m.confidence": floor}).
		Where(sq.Expr("MAX(m.last_accessed_at, COALESCE(m.decay_anchor_at, 0)) < ?", cutoff.Unix())).
		Where(sq.Gt{"m.id": afterID}).
		OrderBy("m.id").
		Limit(uint64(limit))
	return s.queryMemories(ctx, query, caps)
}

// ApplyDecay lowers a memory's confidence and advances its decay anchor.
// Confidence never rises here even if the row changed since it was read,
// and memories that became protected or non-standard meanwhile are skipped.
func (s *Store) ApplyDecay(ctx context.Context, id string, confidence float64, anchor time.Time) (bool, error) {
	query := StatementBuilder().
		Update("memories").
		Set("confidence", sq.Expr("MIN(confidence, ?)", confidence)).
		Set("decay_anchor_at", anchor.Unix()).
		Where(sq.Eq{"id": id, "decay_policy": string(DecayStandard), "is_protected": false}).
		Where(sq.NotEq{"memory_type": string(MemoryTypeSemantic)})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build decay query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return false, newError(ErrorKindStorage, "ApplyDecay", "update memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, newError(ErrorKindStorage, "ApplyDecay", "rows affected", err)
	}
	return n > 0, nil
}

// effectiveConfidence is the SQL form of Memory.EffectiveConfidence for
// columns qualified by prefix ("" or "m.").
func effectiveConfidence(caps Capabilities, prefix string) string {
	if !caps.Reactions {
		return prefix + "confidence"
	}
	return fmt.Sprintf("MIN(1, MAX(0, %[1]sconfidence + %[1]sreaction_confidence_boost))", prefix)
}

// FlagForCleanup marks memories created before createdBefore whose
// effective confidence is below threshold as pending_deletion. Nothing is
// deleted.
func (s *Store) FlagForCleanup(ctx context.Context, threshold float64, createdBefore time.Time) (int64, error) {
	caps := s.Capabilities(ctx)
	if !caps.DecayColumns {
		return 0, newError(ErrorKindCapability, "FlagForCleanup", "decay columns unavailable", nil)
	}
	query := StatementBuilder().
		Update("memories").
		Set("decay_policy", string(DecayPendingDeletion)).
		Set("updated_at", s.Now().Unix()).
		Where(sq.Eq{"decay_policy": string(DecayStandard), "is_protected": false}).
		Where(sq.NotEq{"memory_type": string(MemoryTypeSemantic)}).
		Where(sq.Lt{"created_at": createdBefore.Unix()}).
		Where(sq.Expr(effectiveConfidence(caps, "")+" < ?", threshold))
	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build cleanup query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, newError(ErrorKindStorage, "FlagForCleanup", "update memories", err)
	}
	return res.RowsAffected()
}

// ConsolidationCandidates lists episodic memories retrieved often enough
// and trusted enough, counting reaction boosts, to be worth promoting to
// semantic.
func (s *Store) ConsolidationCandidates(ctx context.Context, minRetrievals int, minConfidence float64, limit int) ([]*Memory, error) {
	caps := s.Capabilities(ctx)
	query := selectMemories(caps).
		Where(sq.Eq{"m.memory_type": string(MemoryTypeEpisodic)}).
		Where(sq.GtOrEq{"m.retrieval_count": minRetrievals}).
		Where(sq.Expr(effectiveConfidence(caps, "m.")+" >= ?", minConfidence)).
		OrderBy("m.retrieval_count DESC", "m.id").
		Limit(uint64(limit))
	if caps.DecayColumns {
		query = query.Where(sq.NotEq{"m.decay_policy": string(DecayPendingDeletion)})
	}
	return s.queryMemories(ctx, query, caps)
}
