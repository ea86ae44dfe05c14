package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "recall.v1.MemoryService"

// MemoryServiceServer is the server API for MemoryService. Every request and
// response is a google.protobuf.Struct holding the JSON form of the typed
// messages in this package.
type MemoryServiceServer interface {
	Retrieve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Promote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetProtected(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunDecay(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunAggregation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Capabilities(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LinkMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddReaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveReaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(MemoryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MemoryServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MemoryServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// MemoryServiceDesc describes MemoryService for grpc.Server.RegisterService.
var MemoryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MemoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Retrieve", MemoryServiceServer.Retrieve),
		unaryMethod("Update", MemoryServiceServer.Update),
		unaryMethod("Promote", MemoryServiceServer.Promote),
		unaryMethod("SetProtected", MemoryServiceServer.SetProtected),
		unaryMethod("RunDecay", MemoryServiceServer.RunDecay),
		unaryMethod("RunAggregation", MemoryServiceServer.RunAggregation),
		unaryMethod("Capabilities", MemoryServiceServer.Capabilities),
		unaryMethod("LinkMessage", MemoryServiceServer.LinkMessage),
		unaryMethod("AddReaction", MemoryServiceServer.AddReaction),
		unaryMethod("RemoveReaction", MemoryServiceServer.RemoveReaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "recall/v1/memory.proto",
}

// RegisterMemoryServiceServer registers srv on s.
func RegisterMemoryServiceServer(s grpc.ServiceRegistrar, srv MemoryServiceServer) {
	s.RegisterService(&MemoryServiceDesc, srv)
}

// encode converts a typed message to its Struct form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert %T to struct: %w", v, err)
	}
	return out, nil
}

// decode fills v from a Struct.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
