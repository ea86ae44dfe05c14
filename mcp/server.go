// Package mcp exposes memory retrieval and remembering as MCP tools so a
// chat agent can call them over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/privacy"
)

// Tool names.
const (
	ToolRetrieve = "memory_retrieve"
	ToolRemember = "memory_remember"
)

// Server is an MCP server over the memory core.
type Server struct {
	retriever *memory.Retriever
	updater   *memory.Updater
	mcpServer *server.MCPServer
	logger    zerolog.Logger
}

// NewServer builds the MCP server and registers its tools.
func NewServer(retriever *memory.Retriever, updater *memory.Updater, version string, logger zerolog.Logger) *Server {
	s := &Server{
		retriever: retriever,
		updater:   updater,
		mcpServer: server.NewMCPServer("recall", version, server.WithToolCapabilities(false)),
		logger:    logger.With().Str("component", "mcp-server").Logger(),
	}
	s.mcpServer.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcpServer.AddTool(rememberTool(), s.handleRemember)
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over the given streams until ctx ends or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Msg("Serving MCP over stdio")
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

func contextOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("context_kind",
			mcp.Description("Where the conversation is happening"),
			mcp.Enum(string(privacy.KindDirectMessage), string(privacy.KindGuildChannel), string(privacy.KindGuildThread)),
			mcp.DefaultString(string(privacy.KindDirectMessage)),
		),
		mcp.WithString("guild_id", mcp.Description("Guild id for guild conversations")),
		mcp.WithString("channel_id", mcp.Description("Channel or thread id")),
		mcp.WithBoolean("everyone_can_read", mcp.Description("Whether the guild's default role can read the channel; omit if unknown")),
	}
}

func retrieveTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Retrieve memories about a user that are visible in the current conversation, best first."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("User the memories are about")),
		mcp.WithString("query", mcp.Required(), mcp.Description("What to look for")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of memories to return"), mcp.Min(0)),
	}
	return mcp.NewTool(ToolRetrieve, append(opts, contextOptions()...)...)
}

func rememberTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Remember a fact a user disclosed in the current conversation."),
		mcp.WithString("owner_id", mcp.Required(), mcp.Description("User the fact is about")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("The fact, as one sentence")),
		mcp.WithString("memory_type",
			mcp.Enum(string(memory.MemoryTypeEpisodic), string(memory.MemoryTypeSemantic), string(memory.MemoryTypeProcedural)),
			mcp.DefaultString(string(memory.MemoryTypeEpisodic)),
		),
		mcp.WithString("supporting_context", mcp.Description("Excerpt the fact was drawn from")),
		mcp.WithNumber("confidence", mcp.Min(0), mcp.Max(1), mcp.DefaultNumber(0.7)),
		mcp.WithBoolean("globally_safe", mcp.Description("The fact is a public identifier safe to share everywhere")),
	}
	return mcp.NewTool(ToolRemember, append(opts, contextOptions()...)...)
}

// conversationContext reads the shared context arguments.
func conversationContext(req mcp.CallToolRequest) (privacy.Context, error) {
	pctx := privacy.Context{
		Kind:      privacy.ContextKind(req.GetString("context_kind", string(privacy.KindDirectMessage))),
		GuildID:   req.GetString("guild_id", ""),
		ChannelID: req.GetString("channel_id", ""),
	}
	switch pctx.Kind {
	case privacy.KindDirectMessage, privacy.KindGuildChannel, privacy.KindGuildThread:
	default:
		return privacy.Context{}, fmt.Errorf("unknown context_kind %q", pctx.Kind)
	}
	if v, ok := req.GetArguments()["everyone_can_read"].(bool); ok {
		pctx.EveryoneCanRead = &v
	}
	return pctx, nil
}

func (s *Server) handleRetrieve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pctx, err := conversationContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.retriever.Retrieve(ctx, ownerID, query, pctx, req.GetInt("top_k", 0))
	if err != nil {
		s.logger.Error().Err(err).Str("tool", ToolRetrieve).Msg("Tool call failed")
		return mcp.NewToolResultErrorFromErr("retrieval failed", err), nil
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return jsonResult(results)
}

func (s *Server) handleRemember(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ownerID, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pctx, err := conversationContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cand := memory.Candidate{
		Summary:           summary,
		Type:              memory.MemoryType(req.GetString("memory_type", string(memory.MemoryTypeEpisodic))),
		SupportingContext: req.GetString("supporting_context", ""),
		Confidence:        req.GetFloat("confidence", 0.7),
		GloballySafeClaim: req.GetBool("globally_safe", false),
	}
	res, err := s.updater.Remember(ctx, ownerID, cand, pctx)
	if err != nil {
		if memory.IsInputError(err) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Error().Err(err).Str("tool", ToolRemember).Msg("Tool call failed")
		return mcp.NewToolResultErrorFromErr("remember failed", err), nil
	}
	return jsonResult(res)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
