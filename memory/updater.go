package memory

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/privacy"
)

// Updater decides whether a newly extracted fact merges into an existing
// memory or is added as a new one.
type Updater struct {
	store      *Store
	embedder   Embedder
	summarizer MergeSummarizer
	cfg        Config
	logger     zerolog.Logger
}

// NewUpdater creates an Updater. A nil summarizer merges with
// NewestWinsSummarizer.
func NewUpdater(store *Store, embedder Embedder, summarizer MergeSummarizer, cfg Config, logger zerolog.Logger) *Updater {
	if summarizer == nil {
		summarizer = NewestWinsSummarizer{}
	}
	return &Updater{
		store:      store,
		embedder:   embedder,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "updater").Logger(),
	}
}

// Remember classifies a candidate disclosed in pctx and stores it.
func (u *Updater) Remember(ctx context.Context, ownerID string, cand Candidate, pctx privacy.Context) (UpdateResult, error) {
	level := privacy.ClassifyMemory(cand.Claim(), privacy.ClassifyContext(pctx))
	return u.Update(ctx, ownerID, cand, level, OriginOf(pctx))
}

// Update stores cand for ownerID at the given privacy level. If an existing
// memory at the same level and scope is similar enough, the two are merged;
// otherwise a new memory is added. Adds are idempotent on content.
func (u *Updater) Update(ctx context.Context, ownerID string, cand Candidate, level privacy.Level, origin Origin) (UpdateResult, error) {
	cand.Summary = strings.TrimSpace(cand.Summary)
	if cand.Summary == "" {
		return UpdateResult{}, newError(ErrorKindInput, "Update", "candidate summary", ErrEmptyContent)
	}
	if strings.TrimSpace(ownerID) == "" {
		return UpdateResult{}, newError(ErrorKindInput, "Update", "owner id is empty", nil)
	}
	if !level.Valid() {
		level = privacy.LevelChannelRestricted
	}
	// Global is only reachable through classification.
	if level == privacy.LevelGlobal {
		if ok, reason := privacy.Validate(cand.Claim()); !ok {
			u.logger.Warn().Str("reason", reason).Str("owner_id", ownerID).Msg("Global level rejected; storing as channel_restricted")
			level = privacy.LevelChannelRestricted
		}
	}
	if !cand.Type.Valid() {
		cand.Type = MemoryTypeEpisodic
	}
	cand.Confidence = clamp(cand.Confidence, u.cfg.MinConfidence, u.cfg.ConfidenceCap(cand.Type))

	log := u.logger.With().
		Str("method", "Update").
		Str("owner_id", ownerID).
		Str("privacy_level", string(level)).
		Logger()

	embedding, err := u.embed(ctx, cand.Summary)
	if err != nil {
		log.Warn().Err(err).Msg("Candidate embedding failed; adding without merge check")
		return u.add(ctx, ownerID, cand, level, origin, nil)
	}

	nearest, sim, err := u.nearest(ctx, ownerID, level, origin, embedding)
	if err != nil {
		log.Warn().Err(err).Msg("Merge candidate lookup failed; adding")
		return u.add(ctx, ownerID, cand, level, origin, embedding)
	}
	if nearest == nil || sim < u.cfg.MergeThreshold {
		return u.add(ctx, ownerID, cand, level, origin, embedding)
	}

	res, err := u.merge(ctx, nearest, cand)
	if err != nil {
		log.Warn().Err(err).Str("memory_id", nearest.ID).Msg("Merge failed; adding instead")
		return u.add(ctx, ownerID, cand, level, origin, embedding)
	}
	res.Similarity = sim
	return res, nil
}

func (u *Updater) embed(ctx context.Context, text string) ([]float32, error) {
	if u.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, u.cfg.EmbedTimeout)
	defer cancel()
	vec, err := u.embedder.Embed(ctx, text, EmbedDocument)
	if err != nil {
		return nil, newError(ErrorKindCollaborator, "Update", "embed candidate", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmbeddingUnavailable
	}
	return vec, nil
}

// nearest finds the owner's most similar memory that shares the candidate's
// level and scope, so a merge can never move content across scopes.
func (u *Updater) nearest(ctx context.Context, ownerID string, level privacy.Level, origin Origin, embedding []float32) (*Memory, float64, error) {
	caps := u.store.Capabilities(ctx)
	where := sq.Eq{"m.owner_id": ownerID, "m.privacy_level": string(level)}
	switch level {
	case privacy.LevelChannelRestricted:
		where["m.origin_channel_id"] = nullString(origin.ChannelID)
	case privacy.LevelGuildPublic:
		where["m.origin_guild_id"] = nullString(origin.GuildID)
	}
	query := selectMemories(caps).Where(where).Where(sq.NotEq{"m.embedding": nil})
	if caps.DecayColumns {
		query = query.Where(sq.NotEq{"m.decay_policy": string(DecayPendingDeletion)})
	}
	candidates, err := u.store.queryMemories(ctx, query, caps)
	if err != nil {
		return nil, 0, err
	}

	var (
		best    *Memory
		bestSim float64
	)
	for _, m := range candidates {
		if sim := CosineSimilarity(embedding, m.Embedding); best == nil || sim > bestSim {
			best, bestSim = m, sim
		}
	}
	return best, bestSim, nil
}

func (u *Updater) merge(ctx context.Context, existing *Memory, cand Candidate) (UpdateResult, error) {
	sctx, cancel := context.WithTimeout(ctx, u.cfg.SummarizeTimeout)
	merged, err := u.summarizer.Merge(sctx, MergeInput{
		ExistingSummary: existing.Summary,
		ExistingContext: existing.RawContext,
		IncomingSummary: cand.Summary,
		IncomingContext: cand.SupportingContext,
	})
	cancel()
	if err != nil {
		return UpdateResult{}, newError(ErrorKindCollaborator, "merge", "summarize", err)
	}
	merged.Summary = strings.TrimSpace(merged.Summary)
	if merged.Summary == "" {
		return UpdateResult{}, newError(ErrorKindCollaborator, "merge", "summarizer returned empty text", ErrSummarizerUnavailable)
	}

	embedding, err := u.embed(ctx, merged.Summary)
	if err != nil {
		return UpdateResult{}, err
	}
	confidence := clamp(cand.Confidence, u.cfg.MinConfidence, u.cfg.ConfidenceCap(existing.Type))
	if err := u.store.ApplyMerge(ctx, existing.ID, merged, embedding, confidence); err != nil {
		return UpdateResult{}, err
	}

	u.logger.Info().
		Str("method", "merge").
		Str("memory_id", existing.ID).
		Str("summary", truncateString(merged.Summary, 40)).
		Msg("Merged candidate into existing memory")
	return UpdateResult{MemoryID: existing.ID, Action: ActionMerged, Level: existing.PrivacyLevel}, nil
}

func (u *Updater) add(ctx context.Context, ownerID string, cand Candidate, level privacy.Level, origin Origin, embedding []float32) (UpdateResult, error) {
	m := &Memory{
		OwnerID:         ownerID,
		Summary:         cand.Summary,
		RawContext:      strings.TrimSpace(cand.SupportingContext),
		Type:            cand.Type,
		Embedding:       embedding,
		Confidence:      cand.Confidence,
		PrivacyLevel:    level,
		OriginGuildID:   origin.GuildID,
		OriginChannelID: origin.ChannelID,
	}
	id, inserted, err := u.store.Insert(ctx, m)
	if err != nil {
		return UpdateResult{}, err
	}
	action := ActionAdded
	if !inserted {
		action = ActionMerged
	}
	return UpdateResult{MemoryID: id, Action: action, Level: level}, nil
}
