package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// buildScopeWhere translates a privacy scope into the WHERE clause that
// selects exactly the memories the scope may see. ok is false when the
// scope can see nothing, in which case no query should run.
func buildScopeWhere(scope privacy.Scope) (where sq.Sqlizer, ok bool) {
	if scope.OwnerID == "" {
		return nil, false
	}
	ownerGlobal := sq.Eq{"m.owner_id": scope.OwnerID, "m.privacy_level": string(privacy.LevelGlobal)}

	var guildPublic sq.Sqlizer
	if scope.GuildID != "" {
		guildPublic = sq.Eq{"m.privacy_level": string(privacy.LevelGuildPublic), "m.origin_guild_id": scope.GuildID}
	}

	switch scope.Level {
	case privacy.LevelDM:
		return sq.Eq{"m.owner_id": scope.OwnerID}, true
	case privacy.LevelChannelRestricted:
		or := sq.Or{ownerGlobal}
		if guildPublic != nil {
			or = append(or, guildPublic)
		}
		if scope.ChannelID != "" {
			or = append(or, sq.Eq{
				"m.owner_id":          scope.OwnerID,
				"m.privacy_level":     string(privacy.LevelChannelRestricted),
				"m.origin_channel_id": scope.ChannelID,
			})
		}
		return or, true
	case privacy.LevelGuildPublic:
		or := sq.Or{ownerGlobal}
		if guildPublic != nil {
			or = append(or, guildPublic)
		}
		return or, true
	default:
		return nil, false
	}
}

// scopedSelect applies the scope filter and lifecycle exclusions to a
// memories SELECT.
func scopedSelect(caps Capabilities, scope privacy.Scope) (sq.SelectBuilder, bool) {
	where, ok := buildScopeWhere(scope)
	if !ok {
		return sq.SelectBuilder{}, false
	}
	query := selectMemories(caps).Where(where)
	if caps.DecayColumns {
		query = query.Where(sq.NotEq{"m.decay_policy": string(DecayPendingDeletion)})
	}
	return query, true
}

// enforceScope re-checks every row against the scope predicate so a
// query-building mistake cannot surface a memory outside its scope.
func (s *Store) enforceScope(scope privacy.Scope, memories []*Memory) []*Memory {
	allowed := lo.Filter(memories, func(m *Memory, _ int) bool {
		return scope.Allows(m.Record())
	})
	if dropped := len(memories) - len(allowed); dropped > 0 {
		s.logger.Error().
			Str("owner_id", scope.OwnerID).
			Str("scope_level", string(scope.Level)).
			Int("dropped", dropped).
			Msg("Scope filter returned memories outside scope; dropped")
	}
	return allowed
}

// ScopedMemories returns every memory visible in scope that carries an
// embedding.
func (s *Store) ScopedMemories(ctx context.Context, scope privacy.Scope) ([]*Memory, error) {
	caps := s.Capabilities(ctx)
	query, ok := scopedSelect(caps, scope)
	if !ok {
		return nil, nil
	}
	query = query.Where(sq.NotEq{"m.embedding": nil})
	memories, err := s.queryMemories(ctx, query, caps)
	if err != nil {
		return nil, err
	}
	return s.enforceScope(scope, memories), nil
}

// LexicalSearch ranks memories visible in scope by term overlap with
// queryText: an exact term in the summary outranks one in raw_context,
// which outranks a partial match. Every row matching in scope is scored
// before truncating, so at most limit results are returned.
func (s *Store) LexicalSearch(ctx context.Context, scope privacy.Scope, queryText string, limit int) ([]*Memory, error) {
	caps := s.Capabilities(ctx)
	if !caps.LexicalIndex {
		return nil, newError(ErrorKindCapability, "LexicalSearch", "lexical index unavailable", nil)
	}
	tokens := lexicalTokens(queryText)
	if len(tokens) == 0 {
		return nil, nil
	}
	query, ok := scopedSelect(caps, scope)
	if !ok {
		return nil, nil
	}
	match := strings.Join(lo.Map(tokens, func(t string, _ int) string { return t + "*" }), " OR ")
	query = query.
		Join(lexicalTable+" ON "+lexicalTable+".rowid = m.rowid").
		Where(sq.Expr(lexicalTable+" MATCH ?", match))

	s.logger.Debug().
		Str("method", "LexicalSearch").
		Str("match", match).
		Int("limit", limit).
		Msg("called")

	memories, err := s.queryMemories(ctx, query, caps)
	if err != nil {
		return nil, err
	}
	memories = s.enforceScope(scope, memories)

	type scored struct {
		m     *Memory
		score float64
	}
	ranked := lo.Map(memories, func(m *Memory, _ int) scored {
		return scored{m: m, score: lexicalScore(tokens, m)}
	})
	ranked = lo.Filter(ranked, func(r scored, _ int) bool { return r.score > 0 })
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].m.UpdatedAt.Equal(ranked[j].m.UpdatedAt) {
			return ranked[i].m.UpdatedAt.After(ranked[j].m.UpdatedAt)
		}
		return ranked[i].m.ID < ranked[j].m.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return lo.Map(ranked, func(r scored, _ int) *Memory { return r.m }), nil
}

// lexicalTokens splits text into lowercase alphanumeric terms, dropping
// duplicates and single characters. The result is safe to embed in an FTS
// MATCH expression.
func lexicalTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)))
	})
	return lo.Uniq(lo.Filter(fields, func(f string, _ int) bool { return len(f) > 1 }))
}

// lexicalScore weighs each query term by where it matched.
func lexicalScore(tokens []string, m *Memory) float64 {
	summaryWords := lexicalTokens(m.Summary)
	contextWords := lexicalTokens(m.RawContext)
	var score float64
	for _, tok := range tokens {
		switch {
		case lo.Contains(summaryWords, tok):
			score += 2
		case lo.Contains(contextWords, tok):
			score++
		case lo.SomeBy(summaryWords, func(w string) bool { return strings.HasPrefix(w, tok) }),
			lo.SomeBy(contextWords, func(w string) bool { return strings.HasPrefix(w, tok) }):
			score += 0.5
		}
	}
	return score
}

// FuseRRF combines rankings with Reciprocal Rank Fusion: each id scores
// the sum of 1/(k + rank) over every list it appears in, ranks starting at 1.
func FuseRRF(k float64, rankings ...[]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, ranking := range rankings {
		for i, id := range ranking {
			scores[id] += 1 / (k + float64(i+1))
		}
	}
	return scores
}

// ReactionBoost scales a ranking score by positive engagement. Negative or
// absent engagement leaves the score unchanged.
func ReactionBoost(base float64, summary *ReactionSummary, weight, maxBoost float64) float64 {
	if summary == nil || summary.TotalReactions <= 0 || summary.SentimentScore <= 0 {
		return base
	}
	boost := math.Log10(float64(summary.TotalReactions)+1) * weight * summary.SentimentScore
	return base * (1 + math.Min(maxBoost, boost))
}
