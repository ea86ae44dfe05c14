package server

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/runtime"
)

// CapabilitiesResponse reports the detected schema capabilities and the
// last run of each maintenance job.
type CapabilitiesResponse struct {
	Capabilities memory.Capabilities `json:"capabilities"`
	Jobs         []runtime.Result    `json:"jobs"`
	StartedAt    time.Time           `json:"started_at"`
	SocketPath   string              `json:"socket_path,omitempty"`
}

// RunDecay runs one decay pass now.
func (s *Server) RunDecay(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.runJob(ctx, runtime.JobDecay)
}

// RunAggregation runs one reaction aggregation pass now.
func (s *Server) RunAggregation(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return s.runJob(ctx, runtime.JobAggregation)
}

// runJob returns the run result; a job that ran and failed is reported in
// the result's error field rather than as an RPC error.
func (s *Server) runJob(ctx context.Context, name string) (*structpb.Struct, error) {
	if s.jobs == nil {
		return nil, status.Error(codes.Unavailable, "jobs are not running")
	}
	res, err := s.jobs.RunNow(ctx, name)
	if err != nil && res.Job == "" {
		return nil, toStatus(err)
	}
	return encode(res)
}

// Capabilities returns store capabilities and job status.
func (s *Server) Capabilities(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp := CapabilitiesResponse{
		Capabilities: s.store.Capabilities(ctx),
		Jobs:         []runtime.Result{},
		StartedAt:    s.startedAt,
		SocketPath:   s.socketPath,
	}
	if s.jobs != nil {
		if last := s.jobs.Last(); last != nil {
			resp.Jobs = last
		}
	}
	return encode(resp)
}
