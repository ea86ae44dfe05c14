// Package server implements the gRPC MemoryService for the recall daemon.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/reactions"
	"github.com/aschepis/backscratcher/recall/runtime"
)

// Jobs runs and reports the background maintenance jobs.
type Jobs interface {
	RunNow(ctx context.Context, name string) (runtime.Result, error)
	Last() []runtime.Result
}

// Server is the gRPC server for recalld.
type Server struct {
	grpcServer *grpc.Server
	store      *memory.Store
	retriever  *memory.Retriever
	updater    *memory.Updater
	reactions  *reactions.Store
	jobs       Jobs
	logger     zerolog.Logger

	startedAt  time.Time
	socketPath string
}

// Config holds server configuration options.
type Config struct {
	SocketPath string
	Logger     zerolog.Logger
}

// New creates a new gRPC server. reactionStore and jobs may be nil, in which
// case the reaction and job RPCs report Unavailable.
func New(cfg Config, store *memory.Store, retriever *memory.Retriever, updater *memory.Updater, reactionStore *reactions.Store, jobs Jobs) *Server {
	s := &Server{
		store:      store,
		retriever:  retriever,
		updater:    updater,
		reactions:  reactionStore,
		jobs:       jobs,
		logger:     cfg.Logger.With().Str("component", "grpc-server").Logger(),
		socketPath: cfg.SocketPath,
		startedAt:  time.Now(),
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingInterceptor),
	)
	RegisterMemoryServiceServer(s.grpcServer, s)
	reflection.Register(s.grpcServer)

	return s
}

// Serve starts the gRPC server on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	s.startedAt = time.Now()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Starting gRPC server")
	return s.grpcServer.Serve(listener)
}

// ServeUnix starts the server on a Unix domain socket, replacing a stale
// socket file left by a previous run.
func (s *Server) ServeUnix(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	s.socketPath = socketPath
	return s.Serve(listener)
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() {
	s.logger.Info().Msg("Gracefully stopping gRPC server")
	s.grpcServer.GracefulStop()
}

// Stop immediately stops the server.
func (s *Server) Stop() {
	s.logger.Info().Msg("Stopping gRPC server")
	s.grpcServer.Stop()
}

// loggingInterceptor logs unary RPC calls.
func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Err(err).
			Msg("RPC failed")
	} else {
		s.logger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Msg("RPC completed")
	}

	return resp, err
}

// toStatus maps core errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, memory.ErrNotFound):
		code = codes.NotFound
	case memory.IsInputError(err):
		code = codes.InvalidArgument
	case memory.IsCapabilityError(err):
		code = codes.FailedPrecondition
	case memory.IsCollaboratorError(err):
		code = codes.Unavailable
	case errors.Is(err, runtime.ErrJobRunning):
		code = codes.Aborted
	case errors.Is(err, runtime.ErrUnknownJob):
		code = codes.Unimplemented
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}
