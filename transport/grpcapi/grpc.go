package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "xdao.kel.transport.grpcapi.v1.KEL"

// Every method takes and returns a BytesValue holding the JSON encoding of
// the matching model request and response, so this package needs no
// protoc/codegen toolchain.
const (
	methodPropose               = "Propose"
	methodCurrentState          = "CurrentState"
	methodKeyStateNotice        = "KeyStateNotice"
	methodSubmitWitnessReceipt  = "SubmitWitnessReceipt"
	methodResolveDelegationSeal = "ResolveDelegationSeal"
	methodOpenGroupEvent        = "OpenGroupEvent"
	methodMergeGroupPartial     = "MergeGroupPartial"
	methodPendingGroupEvent     = "PendingGroupEvent"
	methodEvent                 = "Event"
	methodAnchorRegistryEvent   = "AnchorRegistryEvent"
	methodCredentialStatus      = "CredentialStatus"

	streamReceipts = "StreamReceipts"
)

type bytesMethod func(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

// KELServer is the server API for the KEL gRPC service.
type KELServer interface {
	Propose(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CurrentState(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	KeyStateNotice(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	SubmitWitnessReceipt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	ResolveDelegationSeal(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	OpenGroupEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	MergeGroupPartial(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	PendingGroupEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Event(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	AnchorRegistryEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	CredentialStatus(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	// StreamReceipts reads receipts until the client closes its side, then
	// replies once.
	StreamReceipts(grpc.ServerStream) error
}

func bind(s KELServer, name string) bytesMethod {
	switch name {
	case methodPropose:
		return s.Propose
	case methodCurrentState:
		return s.CurrentState
	case methodKeyStateNotice:
		return s.KeyStateNotice
	case methodSubmitWitnessReceipt:
		return s.SubmitWitnessReceipt
	case methodResolveDelegationSeal:
		return s.ResolveDelegationSeal
	case methodOpenGroupEvent:
		return s.OpenGroupEvent
	case methodMergeGroupPartial:
		return s.MergeGroupPartial
	case methodPendingGroupEvent:
		return s.PendingGroupEvent
	case methodEvent:
		return s.Event
	case methodAnchorRegistryEvent:
		return s.AnchorRegistryEvent
	case methodCredentialStatus:
		return s.CredentialStatus
	}
	return nil
}

// UnimplementedKELServer can be embedded to have forward compatible implementations.
type UnimplementedKELServer struct{}

func unimplemented(name string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", name)
}

func (UnimplementedKELServer) Propose(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodPropose)
}
func (UnimplementedKELServer) CurrentState(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodCurrentState)
}
func (UnimplementedKELServer) KeyStateNotice(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodKeyStateNotice)
}
func (UnimplementedKELServer) SubmitWitnessReceipt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodSubmitWitnessReceipt)
}
func (UnimplementedKELServer) ResolveDelegationSeal(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodResolveDelegationSeal)
}
func (UnimplementedKELServer) OpenGroupEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodOpenGroupEvent)
}
func (UnimplementedKELServer) MergeGroupPartial(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodMergeGroupPartial)
}
func (UnimplementedKELServer) PendingGroupEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodPendingGroupEvent)
}
func (UnimplementedKELServer) Event(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodEvent)
}
func (UnimplementedKELServer) AnchorRegistryEvent(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodAnchorRegistryEvent)
}
func (UnimplementedKELServer) CredentialStatus(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, unimplemented(methodCredentialStatus)
}

func (UnimplementedKELServer) StreamReceipts(grpc.ServerStream) error {
	return unimplemented(streamReceipts)
}

// RegisterKELServer registers the KEL service on a gRPC server.
func RegisterKELServer(s grpc.ServiceRegistrar, srv KELServer) {
	s.RegisterService(&KEL_ServiceDesc, srv)
}

// KELClient is the client API for the KEL gRPC service. Method is one of the
// service's method names.
type KELClient interface {
	Call(ctx context.Context, method string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	StreamReceipts(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

type kelClient struct{ cc grpc.ClientConnInterface }

func NewKELClient(cc grpc.ClientConnInterface) KELClient { return &kelClient{cc: cc} }

func (c *kelClient) Call(ctx context.Context, method string, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kelClient) StreamReceipts(ctx context.Context, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.cc.NewStream(ctx, &KEL_ServiceDesc.Streams[0], "/"+ServiceName+"/"+streamReceipts, opts...)
}

func _KEL_StreamReceipts_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(KELServer).StreamReceipts(stream)
}

func handler(name string) grpc.MethodHandler {
	full := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := bind(srv.(KELServer), name)
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		h := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, h)
	}
}

// KEL_ServiceDesc is the grpc.ServiceDesc for KEL service.
var KEL_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KELServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodPropose, Handler: handler(methodPropose)},
		{MethodName: methodCurrentState, Handler: handler(methodCurrentState)},
		{MethodName: methodKeyStateNotice, Handler: handler(methodKeyStateNotice)},
		{MethodName: methodSubmitWitnessReceipt, Handler: handler(methodSubmitWitnessReceipt)},
		{MethodName: methodResolveDelegationSeal, Handler: handler(methodResolveDelegationSeal)},
		{MethodName: methodOpenGroupEvent, Handler: handler(methodOpenGroupEvent)},
		{MethodName: methodMergeGroupPartial, Handler: handler(methodMergeGroupPartial)},
		{MethodName: methodPendingGroupEvent, Handler: handler(methodPendingGroupEvent)},
		{MethodName: methodEvent, Handler: handler(methodEvent)},
		{MethodName: methodAnchorRegistryEvent, Handler: handler(methodAnchorRegistryEvent)},
		{MethodName: methodCredentialStatus, Handler: handler(methodCredentialStatus)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: streamReceipts, Handler: _KEL_StreamReceipts_Handler, ClientStreams: true},
	},
	Metadata: "kel.proto",
}
