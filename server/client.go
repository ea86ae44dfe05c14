package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aschepis/backscratcher/recall/memory"
	"github.com/aschepis/backscratcher/recall/reactions"
	"github.com/aschepis/backscratcher/recall/runtime"
)

// Client is a typed MemoryService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a gRPC connection to recalld.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return err
	}
	return decode(out, resp)
}

// Retrieve calls MemoryService.Retrieve.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) (RetrieveResponse, error) {
	var resp RetrieveResponse
	err := c.call(ctx, "Retrieve", req, &resp)
	return resp, err
}

// Update calls MemoryService.Update.
func (c *Client) Update(ctx context.Context, req UpdateRequest) (memory.UpdateResult, error) {
	var resp memory.UpdateResult
	err := c.call(ctx, "Update", req, &resp)
	return resp, err
}

// Promote calls MemoryService.Promote.
func (c *Client) Promote(ctx context.Context, id string) (*memory.Memory, error) {
	var resp MemoryResponse
	err := c.call(ctx, "Promote", PromoteRequest{ID: id}, &resp)
	return resp.Memory, err
}

// SetProtected calls MemoryService.SetProtected.
func (c *Client) SetProtected(ctx context.Context, req SetProtectedRequest) (*memory.Memory, error) {
	var resp MemoryResponse
	err := c.call(ctx, "SetProtected", req, &resp)
	return resp.Memory, err
}

// RunDecay calls MemoryService.RunDecay.
func (c *Client) RunDecay(ctx context.Context) (runtime.Result, error) {
	var resp runtime.Result
	err := c.call(ctx, "RunDecay", struct{}{}, &resp)
	return resp, err
}

// RunAggregation calls MemoryService.RunAggregation.
func (c *Client) RunAggregation(ctx context.Context) (runtime.Result, error) {
	var resp runtime.Result
	err := c.call(ctx, "RunAggregation", struct{}{}, &resp)
	return resp, err
}

// Capabilities calls MemoryService.Capabilities.
func (c *Client) Capabilities(ctx context.Context) (CapabilitiesResponse, error) {
	var resp CapabilitiesResponse
	err := c.call(ctx, "Capabilities", struct{}{}, &resp)
	return resp, err
}

// LinkMessage calls MemoryService.LinkMessage.
func (c *Client) LinkMessage(ctx context.Context, req LinkMessageRequest) error {
	return c.call(ctx, "LinkMessage", req, &struct{}{})
}

// AddReaction calls MemoryService.AddReaction.
func (c *Client) AddReaction(ctx context.Context, r reactions.Reaction) error {
	return c.call(ctx, "AddReaction", r, &struct{}{})
}

// RemoveReaction calls MemoryService.RemoveReaction.
func (c *Client) RemoveReaction(ctx context.Context, messageID, reactorID, emoji string) (bool, error) {
	var resp RemoveReactionResponse
	err := c.call(ctx, "RemoveReaction", reactions.Reaction{MessageID: messageID, ReactorID: reactorID, Emoji: emoji}, &resp)
	return resp.Removed, err
}
