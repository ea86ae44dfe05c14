package server

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/privacy"
)

// RetrieveRequest asks for memories about OwnerID relevant to Query, as seen
// from Context.
type RetrieveRequest struct {
	OwnerID string          `json:"owner_id"`
	Query   string          `json:"query"`
	Context privacy.Context `json:"context"`
	TopK    int             `json:"top_k,omitempty"`
}

// RetrieveResponse lists retrieved memories, best first.
type RetrieveResponse struct {
	Results []memory.SearchResult `json:"results"`
}

// UpdateRequest offers a candidate fact disclosed in Context.
type UpdateRequest struct {
	OwnerID   string           `json:"owner_id"`
	Candidate memory.Candidate `json:"candidate"`
	Context   privacy.Context  `json:"context"`
}

// PromoteRequest names a memory to promote to semantic.
type PromoteRequest struct {
	ID string `json:"id"`
}

// SetProtectedRequest toggles protection on one of OwnerID's memories.
type SetProtectedRequest struct {
	OwnerID   string `json:"owner_id"`
	ID        string `json:"id"`
	Protected bool   `json:"protected"`
}

// MemoryResponse carries a single memory.
type MemoryResponse struct {
	Memory *memory.Memory `json:"memory"`
}

// Retrieve returns the memories visible from the request context.
func (s *Server) Retrieve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req RetrieveRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id is required")
	}
	if req.TopK < 0 {
		return nil, status.Error(codes.InvalidArgument, "top_k must not be negative")
	}

	results, err := s.retriever.Retrieve(ctx, req.OwnerID, req.Query, req.Context, req.TopK)
	if err != nil {
		return nil, toStatus(err)
	}
	if results == nil {
		results = []memory.SearchResult{}
	}
	return encode(RetrieveResponse{Results: results})
}

// Update classifies and stores a candidate fact.
func (s *Server) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req UpdateRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id is required")
	}

	res, err := s.updater.Remember(ctx, req.OwnerID, req.Candidate, req.Context)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

// Promote turns a memory into a semantic memory.
func (s *Server) Promote(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PromoteRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	if err := s.store.PromoteToSemantic(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return s.memoryResponse(ctx, req.ID)
}

// SetProtected toggles decay protection on a memory.
func (s *Server) SetProtected(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SetProtectedRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.OwnerID == "" || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "owner_id and id are required")
	}

	if err := s.store.SetProtected(ctx, req.OwnerID, req.ID, req.Protected); err != nil {
		return nil, toStatus(err)
	}
	return s.memoryResponse(ctx, req.ID)
}

func (s *Server) memoryResponse(ctx context.Context, id string) (*structpb.Struct, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(MemoryResponse{Memory: m})
}
