package server

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aschepis/backscratcher/recall/reactions"
)

// LinkMessageRequest ties a chat message to a memory it surfaced or
// produced.
type LinkMessageRequest struct {
	MessageID string `json:"message_id"`
	MemoryID  string `json:"memory_id"`
}

// RemoveReactionResponse reports whether an active reaction was removed.
type RemoveReactionResponse struct {
	Removed bool `json:"removed"`
}

// LinkMessage records a message-to-memory link so reactions on the message
// count toward the memory.
func (s *Server) LinkMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req LinkMessageRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.MessageID) == "" || strings.TrimSpace(req.MemoryID) == "" {
		return nil, status.Error(codes.InvalidArgument, "message_id and memory_id are required")
	}
	if err := s.requireReactions(ctx); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, req.MemoryID); err != nil {
		return nil, toStatus(err)
	}
	if err := s.reactions.LinkMessage(ctx, req.MessageID, req.MemoryID); err != nil {
		return nil, toStatus(err)
	}
	return encode(struct{}{})
}

// AddReaction records an emoji reaction with its precomputed dimensions.
func (s *Server) AddReaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reactions.Reaction
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := validateReaction(req); err != nil {
		return nil, err
	}
	if err := s.requireReactions(ctx); err != nil {
		return nil, err
	}
	// Timestamps come from the store clock.
	req.CreatedAt, req.RemovedAt = s.store.Now(), nil
	if err := s.reactions.AddReaction(ctx, req); err != nil {
		return nil, toStatus(err)
	}
	return encode(struct{}{})
}

// RemoveReaction retracts an active reaction. Only the message, reactor and
// emoji of the request are read.
func (s *Server) RemoveReaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reactions.Reaction
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := validateReaction(req); err != nil {
		return nil, err
	}
	if err := s.requireReactions(ctx); err != nil {
		return nil, err
	}
	removed, err := s.reactions.RemoveReaction(ctx, req.MessageID, req.ReactorID, req.Emoji)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(RemoveReactionResponse{Removed: removed})
}

func validateReaction(r reactions.Reaction) error {
	if strings.TrimSpace(r.MessageID) == "" || strings.TrimSpace(r.ReactorID) == "" || r.Emoji == "" {
		return status.Error(codes.InvalidArgument, "message_id, reactor_id and emoji are required")
	}
	return nil
}

func (s *Server) requireReactions(ctx context.Context) error {
	if s.reactions == nil {
		return status.Error(codes.Unavailable, "reaction ingestion is not configured")
	}
	if !s.store.Capabilities(ctx).Reactions {
		return status.Error(codes.FailedPrecondition, "reaction tables unavailable")
	}
	return nil
}
