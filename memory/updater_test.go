package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/memory/memorytest"
	"github.com/aschepis/backscratcher/recall/privacy"
)

type fakeSummarizer struct {
	result memory.MergeResult
	err    error
	calls  int
}

func (f *fakeSummarizer) Merge(context.Context, memory.MergeInput) (memory.MergeResult, error) {
	f.calls++
	return f.result, f.err
}

func TestUpdater_RepeatedFactKeepsOneRow(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	up := newUpdater(store, memorytest.HashEmbedder{}, nil)

	cand := memory.Candidate{Summary: "Prefers tabs over spaces", Type: memory.MemoryTypeSemantic, Confidence: 0.8}
	first, err := up.Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, err := up.Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if first.Action != memory.ActionAdded || second.MemoryID != first.MemoryID {
		t.Fatalf("results = %+v, %+v", first, second)
	}

	rows, err := store.ListByOwner(ctx, "U", 10)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].SourceCount != 2 {
		t.Fatalf("source_count = %d, want 2", rows[0].SourceCount)
	}
}

func TestUpdater_IdempotentAddWithoutEmbedder(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	up := newUpdater(store, memorytest.FailingEmbedder{}, nil)

	cand := memory.Candidate{Summary: "Is learning the cello", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}
	for i := 0; i < 2; i++ {
		if _, err := up.Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	rows, _ := store.ListByOwner(ctx, "U", 10)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].SourceCount != 2 {
		t.Fatalf("source_count = %d, want 2", rows[0].SourceCount)
	}
}

func TestUpdater_BackfillsEmbeddingAfterOutage(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	cand := memory.Candidate{Summary: "Collects vintage synthesizers", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}

	first, err := newUpdater(store, memorytest.FailingEmbedder{}, nil).Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update during outage: %v", err)
	}
	if m, _ := store.Get(ctx, first.MemoryID); len(m.Embedding) != 0 {
		t.Fatalf("embedding stored during outage: %d dims", len(m.Embedding))
	}

	second, err := newUpdater(store, memorytest.HashEmbedder{}, nil).Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update after recovery: %v", err)
	}
	if second.MemoryID != first.MemoryID {
		t.Fatalf("resubmission created a second row")
	}
	m, err := store.Get(ctx, first.MemoryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(m.Embedding) == 0 {
		t.Fatalf("embedding not backfilled")
	}
	if m.SourceCount != 2 {
		t.Fatalf("source_count = %d, want 2", m.SourceCount)
	}
}

func TestUpdater_ConcurrentDuplicatesKeepOneRow(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	up := newUpdater(store, memorytest.HashEmbedder{}, nil)
	cand := memory.Candidate{Summary: "Runs a weekly board game night", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := up.Update(ctx, "U", cand, privacy.LevelDM, memory.Origin{}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Update: %v", err)
	}

	rows, err := store.ListByOwner(ctx, "U", 10)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if rows[0].SourceCount != n {
		t.Fatalf("source_count = %d, want %d", rows[0].SourceCount, n)
	}
}

func TestUpdater_MergesSimilarFact(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	emb := memorytest.MapEmbedder{Vectors: map[string][]float32{
		"Works as a nurse":               {1, 0.1, 0},
		"Works as a nurse at St. Mary's": {1, 0.12, 0},
		"Is a nurse at St. Mary's":       {1, 0.11, 0},
	}}
	sum := &fakeSummarizer{result: memory.MergeResult{Summary: "Is a nurse at St. Mary's", RawContext: "merged"}}
	up := newUpdater(store, emb, sum)

	first, err := up.Update(ctx, "U", memory.Candidate{Summary: "Works as a nurse", Type: memory.MemoryTypeEpisodic, Confidence: 0.5}, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, err := up.Update(ctx, "U", memory.Candidate{Summary: "Works as a nurse at St. Mary's", Type: memory.MemoryTypeEpisodic, Confidence: 0.7}, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if second.Action != memory.ActionMerged || second.MemoryID != first.MemoryID {
		t.Fatalf("second = %+v, want merge into %s", second, first.MemoryID)
	}
	if second.Similarity < 0.85 {
		t.Errorf("similarity = %v", second.Similarity)
	}

	m, _ := store.Get(ctx, first.MemoryID)
	if m.Summary != "Is a nurse at St. Mary's" || m.RawContext != "merged" {
		t.Errorf("merged content = %q / %q", m.Summary, m.RawContext)
	}
	if m.SourceCount != 2 {
		t.Errorf("source_count = %d, want 2", m.SourceCount)
	}
	if m.Confidence < 0.7 {
		t.Errorf("confidence = %v, want at least the candidate's 0.7", m.Confidence)
	}
	if m.PrivacyLevel != privacy.LevelDM {
		t.Errorf("privacy level changed to %s", m.PrivacyLevel)
	}
}

func TestUpdater_MergeNeverCrossesPrivacyLevelOrScope(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	vec := []float32{0.2, 0.9, 0.4}
	up := newUpdater(store, memorytest.MapEmbedder{Default: vec}, &fakeSummarizer{result: memory.MergeResult{Summary: "merged"}})

	cand := memory.Candidate{Summary: "Started a new job", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}
	public, err := up.Update(ctx, "U", cand, privacy.LevelGuildPublic, memory.Origin{GuildID: "G", ChannelID: "general"})
	if err != nil {
		t.Fatalf("Update public: %v", err)
	}
	restricted, err := up.Update(ctx, "U", memory.Candidate{Summary: "Started a new job at a bank", Type: memory.MemoryTypeEpisodic, Confidence: 0.6},
		privacy.LevelChannelRestricted, memory.Origin{GuildID: "G", ChannelID: "private"})
	if err != nil {
		t.Fatalf("Update restricted: %v", err)
	}
	if restricted.Action != memory.ActionAdded || restricted.MemoryID == public.MemoryID {
		t.Fatalf("restricted fact merged into public memory: %+v", restricted)
	}
	otherChannel, err := up.Update(ctx, "U", memory.Candidate{Summary: "Started a new job at a bakery", Type: memory.MemoryTypeEpisodic, Confidence: 0.6},
		privacy.LevelChannelRestricted, memory.Origin{GuildID: "G", ChannelID: "another-private"})
	if err != nil {
		t.Fatalf("Update other channel: %v", err)
	}
	if otherChannel.MemoryID == restricted.MemoryID {
		t.Fatalf("restricted memory merged across channels")
	}

	pub, _ := store.Get(ctx, public.MemoryID)
	if pub.PrivacyLevel != privacy.LevelGuildPublic || pub.Summary != "Started a new job" {
		t.Fatalf("public memory changed: %+v", pub)
	}
	res, _ := store.Get(ctx, restricted.MemoryID)
	if res.PrivacyLevel != privacy.LevelChannelRestricted || res.OriginChannelID != "private" {
		t.Fatalf("restricted memory = %+v", res)
	}
}

func TestUpdater_SummarizerFailureFallsBackToAdd(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	vec := []float32{1, 2, 3}
	sum := &fakeSummarizer{err: errors.New("model overloaded")}
	up := newUpdater(store, memorytest.MapEmbedder{Default: vec}, sum)

	first, err := up.Update(ctx, "U", memory.Candidate{Summary: "Has two cats", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	second, err := up.Update(ctx, "U", memory.Candidate{Summary: "Has two cats and a dog", Type: memory.MemoryTypeEpisodic, Confidence: 0.6}, privacy.LevelDM, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if sum.calls != 1 {
		t.Fatalf("summarizer calls = %d, want 1", sum.calls)
	}
	if second.Action != memory.ActionAdded || second.MemoryID == first.MemoryID {
		t.Fatalf("second = %+v, want a separate add", second)
	}
}

func TestUpdater_GlobalRequiresValidation(t *testing.T) {
	store := memorytest.OpenStore(t)
	ctx := context.Background()
	up := newUpdater(store, memorytest.HashEmbedder{}, nil)

	res, err := up.Update(ctx, "U", memory.Candidate{Summary: "Was diagnosed with asthma", Type: memory.MemoryTypeSemantic, Confidence: 0.99}, privacy.LevelGlobal, memory.Origin{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Level == privacy.LevelGlobal {
		t.Fatalf("sensitive fact stored as global")
	}
}

func TestUpdater_RejectsEmptyCandidate(t *testing.T) {
	store := memorytest.OpenStore(t)
	up := newUpdater(store, memorytest.HashEmbedder{}, nil)
	_, err := up.Update(context.Background(), "U", memory.Candidate{Summary: "  "}, privacy.LevelDM, memory.Origin{})
	if !errors.Is(err, memory.ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", err)
	}
}
