package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The ConversationQuery service is described by hand. Requests and responses are
// google.protobuf.Struct documents so no generated stubs are needed:
//
//	GetThread          {"thread_id": uuid} -> {"thread": {...}, "emails": [...]}
//	GetReferencesChain {"thread_id": uuid} -> {"message_ids": [...], "references": "<a@d> <b@d>"}
const ServiceName = "collections.v1.ConversationQuery"

const (
	methodGetThread          = "/" + ServiceName + "/GetThread"
	methodGetReferencesChain = "/" + ServiceName + "/GetReferencesChain"
)

type ConversationQueryServer interface {
	GetThread(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReferencesChain(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var ConversationQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetThread", Handler: getThreadHandler},
		{MethodName: "GetReferencesChain", Handler: getReferencesChainHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "collections/v1/conversation_query.proto",
}

func RegisterConversationQueryServer(s grpc.ServiceRegistrar, srv ConversationQueryServer) {
	s.RegisterService(&ConversationQueryServiceDesc, srv)
}

func getThreadHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversationQueryServer).GetThread(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetThread}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConversationQueryServer).GetThread(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getReferencesChainHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversationQueryServer).GetReferencesChain(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetReferencesChain}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ConversationQueryServer).GetReferencesChain(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ConversationQueryClient calls the service from other processes (the operator CLI, tests).
type ConversationQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewConversationQueryClient(cc grpc.ClientConnInterface) *ConversationQueryClient {
	return &ConversationQueryClient{cc: cc}
}

func (c *ConversationQueryClient) GetThread(ctx context.Context, threadID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetThread, threadID, opts...)
}

func (c *ConversationQueryClient) GetReferencesChain(ctx context.Context, threadID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetReferencesChain, threadID, opts...)
}

func (c *ConversationQueryClient) invoke(ctx context.Context, method, threadID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]any{"thread_id": threadID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
