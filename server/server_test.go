package server

import (
	"context"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/aschepis/backscratcher/recall/decay"
	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/memory/memorytest"
	"github.com/aschepis/backscratcher/recall/privacy"
	"github.com/aschepis/backscratcher/recall/reactions"
	"github.com/aschepis/backscratcher/recall/runtime"
)

func newTestClient(t *testing.T, store *memory.Store, jobs Jobs) *Client {
	t.Helper()
	emb := memorytest.HashEmbedder{Dimensions: 128}
	cfg := memory.DefaultConfig()
	srv := New(Config{Logger: zerolog.Nop()}, store,
		memory.NewRetriever(store, emb, cfg, zerolog.Nop()),
		memory.NewUpdater(store, emb, nil, cfg, zerolog.Nop()),
		reactions.NewStore(store, zerolog.Nop()),
		jobs)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("code = %v (%v), want %v", got, err, want)
	}
}

func TestUpdateThenRetrieve_RespectsPrivacy(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memorytest.OpenStore(t), nil)

	dm := privacy.DirectMessage("dm-U")
	res, err := client.Update(ctx, UpdateRequest{
		OwnerID:   "U",
		Candidate: memory.Candidate{Summary: "U likes green tea", Type: memory.MemoryTypeEpisodic, Confidence: 0.8},
		Context:   dm,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Action != memory.ActionAdded || res.Level != privacy.LevelDM || res.MemoryID == "" {
		t.Fatalf("update result = %+v", res)
	}

	got, err := client.Retrieve(ctx, RetrieveRequest{OwnerID: "U", Query: "green tea", Context: dm})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got.Results) != 1 || got.Results[0].Memory.Summary != "U likes green tea" || got.Results[0].Score <= 0 {
		t.Fatalf("results = %+v", got.Results)
	}

	public, err := client.Retrieve(ctx, RetrieveRequest{
		OwnerID: "U",
		Query:   "green tea",
		Context: privacy.GuildChannel("g1", "general", true),
	})
	if err != nil {
		t.Fatalf("Retrieve public: %v", err)
	}
	if len(public.Results) != 0 {
		t.Fatalf("DM memory leaked into public channel: %+v", public.Results)
	}
}

func TestRetrieve_Validation(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memorytest.OpenStore(t), nil)

	_, err := client.Retrieve(ctx, RetrieveRequest{Query: "tea"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = client.Update(ctx, UpdateRequest{OwnerID: "U", Context: privacy.DirectMessage("d")})
	requireCode(t, err, codes.InvalidArgument)

	blank, err := client.Retrieve(ctx, RetrieveRequest{OwnerID: "U", Query: "  "})
	if err != nil || len(blank.Results) != 0 {
		t.Fatalf("blank query = %+v, %v", blank, err)
	}
}

func TestPromoteAndProtect(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memorytest.OpenStore(t), nil)

	res, err := client.Update(ctx, UpdateRequest{
		OwnerID:   "U",
		Candidate: memory.Candidate{Summary: "U runs on Tuesdays", Confidence: 0.7},
		Context:   privacy.DirectMessage("dm-U"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	protected, err := client.SetProtected(ctx, SetProtectedRequest{OwnerID: "U", ID: res.MemoryID, Protected: true})
	if err != nil {
		t.Fatalf("SetProtected: %v", err)
	}
	if !protected.IsProtected || protected.DecayPolicy != memory.DecayNone {
		t.Fatalf("protected = %+v", protected)
	}

	_, err = client.SetProtected(ctx, SetProtectedRequest{OwnerID: "someone-else", ID: res.MemoryID, Protected: false})
	requireCode(t, err, codes.NotFound)

	promoted, err := client.Promote(ctx, res.MemoryID)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if promoted.Type != memory.MemoryTypeSemantic {
		t.Fatalf("promoted type = %s", promoted.Type)
	}

	_, err = client.Promote(ctx, "missing")
	requireCode(t, err, codes.NotFound)
}

func TestJobsAndCapabilities(t *testing.T) {
	ctx := context.Background()
	store := memorytest.OpenStore(t)
	sched := runtime.NewScheduler(0, zerolog.Nop())
	engine := decay.NewEngine(store, decay.Config{}, zerolog.Nop())
	if err := sched.Register(runtime.JobDecay, "", func(ctx context.Context) (any, error) {
		return engine.Run(ctx)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := newTestClient(t, store, sched)

	res, err := client.RunDecay(ctx)
	if err != nil {
		t.Fatalf("RunDecay: %v", err)
	}
	if res.Job != runtime.JobDecay || res.Error != "" {
		t.Fatalf("decay result = %+v", res)
	}

	_, err = client.RunAggregation(ctx)
	requireCode(t, err, codes.Unimplemented)

	caps, err := client.Capabilities(ctx)
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	if !caps.Capabilities.DecayColumns || !caps.Capabilities.Reactions {
		t.Fatalf("capabilities = %+v", caps.Capabilities)
	}
	if len(caps.Jobs) != 1 || caps.Jobs[0].Job != runtime.JobDecay {
		t.Fatalf("jobs = %+v", caps.Jobs)
	}
}

func TestJobs_UnavailableWithoutScheduler(t *testing.T) {
	client := newTestClient(t, memorytest.OpenStore(t), nil)
	_, err := client.RunDecay(context.Background())
	requireCode(t, err, codes.Unavailable)
}

func TestReactionIngestionFeedsAggregation(t *testing.T) {
	ctx := context.Background()
	store := memorytest.OpenStore(t)
	sched := runtime.NewScheduler(0, zerolog.Nop())
	agg := reactions.NewAggregator(store, reactions.NewStore(store, zerolog.Nop()), reactions.Config{}, zerolog.Nop())
	if err := sched.Register(runtime.JobAggregation, "", func(ctx context.Context) (any, error) {
		return agg.Run(ctx)
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := newTestClient(t, store, sched)

	res, err := client.Update(ctx, UpdateRequest{
		OwnerID:   "U",
		Candidate: memory.Candidate{Summary: "U baked a lemon tart", Confidence: 0.6},
		Context:   privacy.GuildChannel("g1", "baking", true),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := client.LinkMessage(ctx, LinkMessageRequest{MessageID: "msg-1", MemoryID: res.MemoryID}); err != nil {
		t.Fatalf("LinkMessage: %v", err)
	}
	for _, reactor := range []string{"a", "b", "c", "d", "e"} {
		r := reactions.Reaction{MessageID: "msg-1", ReactorID: reactor, Emoji: "😍", Sentiment: 0.8, Intensity: 0.6, Intent: "praise"}
		if err := client.AddReaction(ctx, r); err != nil {
			t.Fatalf("AddReaction(%s): %v", reactor, err)
		}
	}

	if _, err := client.RunAggregation(ctx); err != nil {
		t.Fatalf("RunAggregation: %v", err)
	}
	m, err := store.Get(ctx, res.MemoryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.ReactionSummary == nil || m.ReactionSummary.TotalReactions != 5 || m.ReactionConfidenceBoost <= 0 {
		t.Fatalf("summary = %+v boost = %v", m.ReactionSummary, m.ReactionConfidenceBoost)
	}

	removed, err := client.RemoveReaction(ctx, "msg-1", "a", "😍")
	if err != nil || !removed {
		t.Fatalf("RemoveReaction = %v, %v", removed, err)
	}
	removed, err = client.RemoveReaction(ctx, "msg-1", "a", "😍")
	if err != nil || removed {
		t.Fatalf("second RemoveReaction = %v, %v", removed, err)
	}
}

func TestReactionIngestion_Validation(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, memorytest.OpenStore(t), nil)

	err := client.LinkMessage(ctx, LinkMessageRequest{MessageID: "msg-1", MemoryID: "missing"})
	requireCode(t, err, codes.NotFound)

	err = client.LinkMessage(ctx, LinkMessageRequest{MemoryID: "m"})
	requireCode(t, err, codes.InvalidArgument)

	err = client.AddReaction(ctx, reactions.Reaction{MessageID: "msg-1", ReactorID: "a"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = client.RemoveReaction(ctx, "", "a", "👍")
	requireCode(t, err, codes.InvalidArgument)
}
