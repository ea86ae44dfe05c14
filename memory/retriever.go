package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// Retriever runs privacy-scoped hybrid search over a Store.
type Retriever struct {
	store    *Store
	embedder Embedder
	cfg      Config
	logger   zerolog.Logger
}

// NewRetriever creates a Retriever. A nil embedder makes every retrieval
// lexical-only.
func NewRetriever(store *Store, embedder Embedder, cfg Config, logger zerolog.Logger) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "retriever").Logger(),
	}
}

// Retrieve returns up to topK memories about ownerID relevant to queryText
// that the conversation context may see, best first. topK <= 0 uses the
// configured default. Returned memories are reinforced.
func (r *Retriever) Retrieve(ctx context.Context, ownerID, queryText string, pctx privacy.Context, topK int) ([]SearchResult, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" || strings.TrimSpace(ownerID) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	scope := privacy.NewScope(ownerID, pctx)
	window := topK * r.cfg.FusionWindowMultiplier
	caps := r.store.Capabilities(ctx)

	log := r.logger.With().
		Str("method", "Retrieve").
		Str("owner_id", ownerID).
		Str("scope_level", string(scope.Level)).
		Logger()

	queryEmbedding, embedErr := r.embedQuery(ctx, queryText)
	if embedErr != nil {
		if !r.cfg.DegradeOnEmbedError {
			log.Error().Err(embedErr).Msg("Query embedding failed")
			return nil, embedErr
		}
		log.Warn().Err(embedErr).Msg("Query embedding failed; degrading to lexical-only")
	}

	var (
		semantic []*Memory
		lexical  []*Memory
	)
	semanticOK := queryEmbedding != nil
	if semanticOK {
		var err error
		semantic, err = r.semanticRank(ctx, scope, queryEmbedding, window)
		if err != nil {
			if !caps.LexicalIndex {
				log.Error().Err(err).Msg("Semantic ranking failed")
				return nil, err
			}
			log.Warn().Err(err).Msg("Semantic ranking failed; degrading to lexical-only")
			semantic, semanticOK = nil, false
		}
	}
	useLexical := caps.LexicalIndex && (r.cfg.EnableHybrid || !semanticOK)
	if useLexical {
		var err error
		lexical, err = r.store.LexicalSearch(ctx, scope, queryText, window)
		if err != nil {
			// Lexical failure leaves the semantic ranking, under the same scope.
			log.Warn().Err(err).Msg("Lexical ranking failed; using semantic-only")
			lexical = nil
		}
	}

	byID := make(map[string]*Memory, len(semantic)+len(lexical))
	for _, m := range append(append([]*Memory{}, semantic...), lexical...) {
		byID[m.ID] = m
	}
	ids := func(ms []*Memory) []string { return lo.Map(ms, func(m *Memory, _ int) string { return m.ID }) }
	fused := FuseRRF(r.cfg.RRFK, ids(lexical), ids(semantic))

	results := make([]SearchResult, 0, len(fused))
	for id, score := range fused {
		m := byID[id]
		results = append(results, SearchResult{
			Memory: m,
			Score:  ReactionBoost(score, m.ReactionSummary, r.cfg.ReactionBoostWeight, r.cfg.ReactionBoostCap),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	log.Info().
		Int("semantic", len(semantic)).
		Int("lexical", len(lexical)).
		Int("returned", len(results)).
		Msg("Retrieval complete")

	if len(results) > 0 {
		returned := lo.Map(results, func(res SearchResult, _ int) *Memory { return res.Memory })
		if err := r.store.Reinforce(ctx, returned, r.cfg.Reinforcement); err != nil {
			log.Error().Err(err).Msg("Reinforcement failed; returning results anyway")
		}
	}
	return results, nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.embedder == nil {
		return nil, newError(ErrorKindCollaborator, "Retrieve", "no embedder configured", ErrEmbeddingUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()
	vec, err := r.embedder.Embed(ctx, text, EmbedQuery)
	if err != nil {
		return nil, newError(ErrorKindCollaborator, "Retrieve", "embed query", err)
	}
	if len(vec) == 0 {
		return nil, newError(ErrorKindCollaborator, "Retrieve", "empty query embedding", ErrEmbeddingUnavailable)
	}
	return vec, nil
}

// semanticRank orders in-scope memories by cosine similarity to the query,
// dropping those below the similarity threshold.
func (r *Retriever) semanticRank(ctx context.Context, scope privacy.Scope, query []float32, limit int) ([]*Memory, error) {
	candidates, err := r.store.ScopedMemories(ctx, scope)
	if err != nil {
		return nil, err
	}
	type scored struct {
		m   *Memory
		sim float64
	}
	ranked := lo.FilterMap(candidates, func(m *Memory, _ int) (scored, bool) {
		sim := CosineSimilarity(query, m.Embedding)
		return scored{m: m, sim: sim}, sim >= r.cfg.SimilarityThreshold
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].sim != ranked[j].sim {
			return ranked[i].sim > ranked[j].sim
		}
		return ranked[i].m.ID < ranked[j].m.ID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return lo.Map(ranked, func(s scored, _ int) *Memory { return s.m }), nil
}
