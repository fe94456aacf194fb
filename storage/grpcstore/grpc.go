package grpcstore

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StoreServer is the server API for the Store gRPC service.
//
// Messages are protobuf well-known types so this package does not require a
// protoc/codegen toolchain. List and table requests are Structs:
//
//	ListAppend  {list, entry: {date, urls, signature, signedby}} -> Empty
//	ListFetch   {list}                                           -> ListValue of entry Structs
//	TableGet    {table, key}                                     -> BytesValue
//	TableSet    {table, key, value: base64}                      -> Empty
//	TableKeys   {table}                                          -> ListValue of strings
type StoreServer interface {
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	ListAppend(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListFetch(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	TableGet(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	TableSet(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	TableKeys(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

// UnimplementedStoreServer can be embedded to have forward compatible implementations.
type UnimplementedStoreServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedStoreServer) Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, unimplemented("Put")
}
func (UnimplementedStoreServer) Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("Get")
}
func (UnimplementedStoreServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, unimplemented("Has")
}
func (UnimplementedStoreServer) ListAppend(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, unimplemented("ListAppend")
}
func (UnimplementedStoreServer) ListFetch(context.Context, *structpb.Struct) (*structpb.ListValue, error) {
	return nil, unimplemented("ListFetch")
}
func (UnimplementedStoreServer) TableGet(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented("TableGet")
}
func (UnimplementedStoreServer) TableSet(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, unimplemented("TableSet")
}
func (UnimplementedStoreServer) TableKeys(context.Context, *structpb.Struct) (*structpb.ListValue, error) {
	return nil, unimplemented("TableKeys")
}

// RegisterStoreServer registers the Store service on a gRPC server.
func RegisterStoreServer(s grpc.ServiceRegistrar, srv StoreServer) {
	s.RegisterService(&Store_ServiceDesc, srv)
}

const serviceName = "dweb.storage.grpcstore.v1.Store"

func method(name string) string { return "/" + serviceName + "/" + name }

// StoreClient is the client API for the Store gRPC service.
type StoreClient interface {
	Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	ListAppend(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ListFetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	TableGet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	TableSet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	TableKeys(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
}

type storeClient struct{ cc grpc.ClientConnInterface }

func NewStoreClient(cc grpc.ClientConnInterface) StoreClient { return &storeClient{cc: cc} }

func invoke[Out any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Out, error) {
	out := new(Out)
	if err := cc.Invoke(ctx, method(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *storeClient) Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "Put", in, opts)
}

func (c *storeClient) Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, "Get", in, opts)
}

func (c *storeClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return invoke[wrapperspb.BoolValue](ctx, c.cc, "Has", in, opts)
}

func (c *storeClient) ListAppend(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "ListAppend", in, opts)
}

func (c *storeClient) ListFetch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "ListFetch", in, opts)
}

func (c *storeClient) TableGet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, "TableGet", in, opts)
}

func (c *storeClient) TableSet(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "TableSet", in, opts)
}

func (c *storeClient) TableKeys(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, "TableKeys", in, opts)
}

// unary builds a grpc.MethodDesc handler that decodes In and dispatches to call.
func unary[In any, Out any](name string, call func(StoreServer, context.Context, *In) (*Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(In)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(StoreServer), ctx, req.(*In))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Store_ServiceDesc is the grpc.ServiceDesc for the Store service.
var Store_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Put", StoreServer.Put),
		unary("Get", StoreServer.Get),
		unary("Has", StoreServer.Has),
		unary("ListAppend", StoreServer.ListAppend),
		unary("ListFetch", StoreServer.ListFetch),
		unary("TableGet", StoreServer.TableGet),
		unary("TableSet", StoreServer.TableSet),
		unary("TableKeys", StoreServer.TableKeys),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "store.proto",
}
