package privacy

import (
	"math/rand"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestClassifyContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  Context
		want Level
	}{
		{"direct message", DirectMessage("dm-1"), LevelDM},
		{"public channel", GuildChannel("g1", "c1", true), LevelGuildPublic},
		{"restricted channel", GuildChannel("g1", "c1", false), LevelChannelRestricted},
		{"thread readable by everyone", Context{Kind: KindGuildThread, GuildID: "g1", ChannelID: "t1", EveryoneCanRead: boolPtr(true)}, LevelGuildPublic},
		{"unknown readability", Context{Kind: KindGuildChannel, GuildID: "g1", ChannelID: "c1"}, LevelChannelRestricted},
		{"missing guild id", Context{Kind: KindGuildChannel, ChannelID: "c1", EveryoneCanRead: boolPtr(true)}, LevelChannelRestricted},
		{"unknown kind", Context{Kind: "voice", GuildID: "g1", ChannelID: "c1", EveryoneCanRead: boolPtr(true)}, LevelChannelRestricted},
		{"zero value", Context{}, LevelChannelRestricted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyContext(tt.ctx); got != tt.want {
				t.Errorf("ClassifyContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyMemory(t *testing.T) {
	tests := []struct {
		name  string
		claim Claim
		ctx   Level
		want  Level
	}{
		{
			name:  "identifier promoted",
			claim: Claim{Summary: "U's IGN is Foo123", MemoryType: "semantic", Confidence: 0.95, GloballySafe: true},
			ctx:   LevelDM,
			want:  LevelGlobal,
		},
		{
			name:  "timezone promoted",
			claim: Claim{Summary: "Lives in the UTC+2 timezone", MemoryType: "semantic", Confidence: 0.9, GloballySafe: true},
			ctx:   LevelChannelRestricted,
			want:  LevelGlobal,
		},
		{
			name:  "tool preference promoted",
			claim: Claim{Summary: "Prefers Neovim as their editor", MemoryType: "semantic", Confidence: 0.92, GloballySafe: true},
			ctx:   LevelGuildPublic,
			want:  LevelGlobal,
		},
		{
			name:  "claim not asserted",
			claim: Claim{Summary: "U's IGN is Foo123", MemoryType: "semantic", Confidence: 0.95},
			ctx:   LevelDM,
			want:  LevelDM,
		},
		{
			name:  "episodic never global",
			claim: Claim{Summary: "U's IGN is Foo123", MemoryType: "episodic", Confidence: 0.95, GloballySafe: true},
			ctx:   LevelDM,
			want:  LevelDM,
		},
		{
			name:  "low confidence",
			claim: Claim{Summary: "U's IGN is Foo123", MemoryType: "semantic", Confidence: 0.89, GloballySafe: true},
			ctx:   LevelGuildPublic,
			want:  LevelGuildPublic,
		},
		{
			name:  "sensitive topic rejected",
			claim: Claim{Summary: "Prefers to keep their therapy sessions private", MemoryType: "semantic", Confidence: 0.99, GloballySafe: true},
			ctx:   LevelDM,
			want:  LevelDM,
		},
		{
			name:  "no allow-list pattern",
			claim: Claim{Summary: "Owns a red bicycle", MemoryType: "semantic", Confidence: 0.99, GloballySafe: true},
			ctx:   LevelChannelRestricted,
			want:  LevelChannelRestricted,
		},
		{
			name:  "invalid context level is made restrictive",
			claim: Claim{Summary: "Owns a red bicycle", MemoryType: "semantic", Confidence: 0.5},
			ctx:   Level("bogus"),
			want:  LevelChannelRestricted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyMemory(tt.claim, tt.ctx); got != tt.want {
				t.Errorf("ClassifyMemory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate_DesignIsNotAnIdentifier(t *testing.T) {
	ok, reason := Validate(Claim{Summary: "Works in graphic design", MemoryType: "semantic", Confidence: 0.99})
	if ok {
		t.Fatalf("expected design to miss the identifier allow-list")
	}
	if reason == "" {
		t.Fatalf("expected a rejection reason")
	}
}

func TestParseLevel(t *testing.T) {
	if got := ParseLevel(" GLOBAL "); got != LevelGlobal {
		t.Errorf("ParseLevel(GLOBAL) = %q", got)
	}
	if got := ParseLevel("everyone"); got != LevelChannelRestricted {
		t.Errorf("ParseLevel(everyone) = %q, want channel_restricted", got)
	}
}

func TestScopeAllows(t *testing.T) {
	owner := "u1"
	tests := []struct {
		name  string
		scope Scope
		rec   Record
		want  bool
	}{
		{"dm sees own dm", Scope{Level: LevelDM, OwnerID: owner}, Record{OwnerID: owner, Level: LevelDM}, true},
		{"dm sees own restricted", Scope{Level: LevelDM, OwnerID: owner}, Record{OwnerID: owner, Level: LevelChannelRestricted, ChannelID: "c9"}, true},
		{"dm never sees others", Scope{Level: LevelDM, OwnerID: owner}, Record{OwnerID: "u2", Level: LevelGlobal}, false},
		{"restricted sees own global", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: owner, Level: LevelGlobal}, true},
		{"restricted sees others guild public same guild", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: "u2", Level: LevelGuildPublic, GuildID: "g1"}, true},
		{"restricted hides guild public other guild", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: "u2", Level: LevelGuildPublic, GuildID: "g2"}, false},
		{"restricted sees own restricted same channel", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: owner, Level: LevelChannelRestricted, ChannelID: "c1"}, true},
		{"restricted hides own restricted other channel", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: owner, Level: LevelChannelRestricted, ChannelID: "c2"}, false},
		{"restricted hides own dm", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: owner, Level: LevelDM, ChannelID: "c1"}, false},
		{"restricted without channel hides restricted", Scope{Level: LevelChannelRestricted, OwnerID: owner, GuildID: "g1"}, Record{OwnerID: owner, Level: LevelChannelRestricted}, false},
		{"public hides own restricted", Scope{Level: LevelGuildPublic, OwnerID: owner, GuildID: "g1", ChannelID: "c1"}, Record{OwnerID: owner, Level: LevelChannelRestricted, ChannelID: "c1"}, false},
		{"public hides others global", Scope{Level: LevelGuildPublic, OwnerID: owner, GuildID: "g1"}, Record{OwnerID: "u2", Level: LevelGlobal}, false},
		{"global scope allows nothing", Scope{Level: LevelGlobal, OwnerID: owner}, Record{OwnerID: owner, Level: LevelGlobal}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.Allows(tt.rec); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestScopeAllows_NeverLeaks generates random scopes and records and checks
// every allowed pair against the reachability rules written out longhand.
func TestScopeAllows_NeverLeaks(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	owners := []string{"u1", "u2", "u3"}
	guilds := []string{"", "g1", "g2"}
	channels := []string{"", "c1", "c2", "c3"}
	pick := func(xs []string) string { return xs[rng.Intn(len(xs))] }

	for i := 0; i < 20000; i++ {
		ctx := Context{Kind: []ContextKind{KindDirectMessage, KindGuildChannel, KindGuildThread, "other"}[rng.Intn(4)]}
		ctx.GuildID = pick(guilds)
		ctx.ChannelID = pick(channels)
		ctx.EveryoneCanRead = boolPtr(rng.Intn(2) == 0)
		scope := NewScope(pick(owners), ctx)
		rec := Record{
			OwnerID:   pick(owners),
			Level:     Levels[rng.Intn(len(Levels))],
			GuildID:   pick(guilds),
			ChannelID: pick(channels),
		}
		if !scope.Allows(rec) {
			continue
		}
		switch scope.Level {
		case LevelDM:
			if rec.OwnerID != scope.OwnerID {
				t.Fatalf("dm scope leaked foreign memory: %+v %+v", scope, rec)
			}
		case LevelChannelRestricted:
			ok := (rec.OwnerID == scope.OwnerID && rec.Level == LevelGlobal) ||
				(rec.Level == LevelGuildPublic && rec.GuildID != "" && rec.GuildID == scope.GuildID) ||
				(rec.OwnerID == scope.OwnerID && rec.Level == LevelChannelRestricted && rec.ChannelID != "" && rec.ChannelID == scope.ChannelID)
			if !ok {
				t.Fatalf("restricted scope leaked: %+v %+v", scope, rec)
			}
		case LevelGuildPublic:
			ok := (rec.OwnerID == scope.OwnerID && rec.Level == LevelGlobal) ||
				(rec.Level == LevelGuildPublic && rec.GuildID != "" && rec.GuildID == scope.GuildID)
			if !ok {
				t.Fatalf("public scope leaked: %+v %+v", scope, rec)
			}
		default:
			t.Fatalf("unexpected scope level %q allowed a record", scope.Level)
		}
	}
}
