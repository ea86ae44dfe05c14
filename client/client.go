// Package client connects to a running recalld.
package client

import (
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aschepis/backscratcher/recall/server"
)

const (
	// DefaultSocketPath is the default Unix socket path for the daemon.
	DefaultSocketPath = "/tmp/recalld.sock"
)

// Client is a MemoryService client bound to its own connection.
type Client struct {
	*server.Client
	conn *grpc.ClientConn
}

// Connect connects to recalld.
// The address can be:
//   - A Unix socket path (e.g., "/tmp/recalld.sock")
//   - A TCP address (e.g., "localhost:50051")
//
// If the address starts with "unix://", it will be treated as a Unix socket.
// Otherwise, if it contains ":" it will be treated as TCP, else Unix socket.
func Connect(address string) (*Client, error) {
	conn, err := grpc.NewClient(Target(address), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", address, err)
	}
	return &Client{Client: server.NewClient(conn), conn: conn}, nil
}

// Target converts a socket path or TCP address into a gRPC target.
func Target(address string) string {
	switch {
	case address == "":
		return "unix://" + DefaultSocketPath
	case strings.HasPrefix(address, "unix://"):
		return address
	case strings.Contains(address, ":") && !strings.HasPrefix(address, "/"):
		return address
	default:
		return "unix://" + address
	}
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
