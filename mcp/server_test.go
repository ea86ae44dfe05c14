package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/memory/memorytest"
	"github.com/aschepis/backscratcher/recall/privacy"
)

func newTestClient(t *testing.T) *client.Client {
	t.Helper()
	store := memorytest.OpenStore(t)
	emb := memorytest.HashEmbedder{Dimensions: 128}
	cfg := memory.DefaultConfig()
	srv := NewServer(
		memory.NewRetriever(store, emb, cfg, zerolog.Nop()),
		memory.NewUpdater(store, emb, nil, cfg, zerolog.Nop()),
		"test",
		zerolog.Nop(),
	)

	ctx := context.Background()
	c, err := client.NewInProcessClient(srv.MCPServer())
	if err != nil {
		t.Fatalf("NewInProcessClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "recall-test", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c
}

func callTool(t *testing.T, c *client.Client, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	return mcp.GetTextFromContent(res.Content[0])
}

func TestListTools(t *testing.T) {
	c := newTestClient(t)
	res, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if !names[ToolRetrieve] || !names[ToolRemember] || len(names) != 2 {
		t.Fatalf("tools = %v", names)
	}
}

func TestRememberThenRetrieve(t *testing.T) {
	c := newTestClient(t)

	res := callTool(t, c, ToolRemember, map[string]any{
		"owner_id":     "U",
		"summary":      "U is learning the cello",
		"context_kind": "dm",
		"channel_id":   "dm-U",
		"confidence":   0.8,
	})
	if res.IsError {
		t.Fatalf("remember failed: %s", resultText(t, res))
	}
	var update memory.UpdateResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &update); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if update.Action != memory.ActionAdded || update.Level != privacy.LevelDM {
		t.Fatalf("update = %+v", update)
	}

	res = callTool(t, c, ToolRetrieve, map[string]any{
		"owner_id":     "U",
		"query":        "cello",
		"context_kind": "dm",
		"channel_id":   "dm-U",
		"top_k":        float64(3),
	})
	if res.IsError {
		t.Fatalf("retrieve failed: %s", resultText(t, res))
	}
	var results []memory.SearchResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) != 1 || results[0].Memory.Summary != "U is learning the cello" {
		t.Fatalf("results = %+v", results)
	}

	res = callTool(t, c, ToolRetrieve, map[string]any{
		"owner_id":          "U",
		"query":             "cello",
		"context_kind":      "guild_channel",
		"guild_id":          "g1",
		"channel_id":        "general",
		"everyone_can_read": true,
	})
	if res.IsError || resultText(t, res) != "[]" {
		t.Fatalf("DM memory visible in public channel: %s", resultText(t, res))
	}
}

func TestToolInputErrors(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing owner", ToolRetrieve, map[string]any{"query": "x"}},
		{"missing summary", ToolRemember, map[string]any{"owner_id": "U"}},
		{"blank summary", ToolRemember, map[string]any{"owner_id": "U", "summary": "   "}},
		{"bad context kind", ToolRetrieve, map[string]any{"owner_id": "U", "query": "x", "context_kind": "carrier_pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := callTool(t, c, tt.tool, tt.args); !res.IsError {
				t.Fatalf("expected tool error, got %s", resultText(t, res))
			}
		})
	}
}
