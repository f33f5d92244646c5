package grpcupstream

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/dynamicpb"
)

const serviceName = "upstream.v1.Upstream"

const (
	methodSubscribeHead   = "/" + serviceName + "/SubscribeHead"
	methodSubscribeStatus = "/" + serviceName + "/SubscribeStatus"
	methodDescribe        = "/" + serviceName + "/Describe"
)

var (
	subscribeHeadDesc = grpc.StreamDesc{
		StreamName:    "SubscribeHead",
		Handler:       subscribeHeadHandler,
		ServerStreams: true,
	}
	subscribeStatusDesc = grpc.StreamDesc{
		StreamName:    "SubscribeStatus",
		Handler:       subscribeStatusHandler,
		ServerStreams: true,
	}
)

// NodeServer is the node side of the upstream protocol.
// Gateways only consume it; it is implemented by nodes and test fixtures.
type NodeServer interface {
	SubscribeHead(ref *ChainRef, stream HeadSender) error
	SubscribeStatus(ref *ChainRef, stream StatusSender) error
	Describe(ctx context.Context, req *DescribeRequest) (*DescribeResponse, error)
}

// HeadSender pushes head elements to a subscriber.
type HeadSender interface {
	Send(*ChainHead) error
	Context() context.Context
}

// StatusSender pushes status elements to a subscriber.
type StatusSender interface {
	Send(*ChainStatus) error
	Context() context.Context
}

// ServiceDesc describes the upstream protocol for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*NodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Describe", Handler: describeHandler},
	},
	Streams: []grpc.StreamDesc{subscribeHeadDesc, subscribeStatusDesc},
}

// RegisterNodeServer registers srv on s.
func RegisterNodeServer(s grpc.ServiceRegistrar, srv NodeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type headSender struct {
	grpc.ServerStream
}

func (s headSender) Send(h *ChainHead) error {
	return s.ServerStream.SendMsg(h.marshal())
}

type statusSender struct {
	grpc.ServerStream
}

func (s statusSender) Send(st *ChainStatus) error {
	return s.ServerStream.SendMsg(st.marshal())
}

func recvChainRef(stream grpc.ServerStream) (*ChainRef, error) {
	msg := dynamicpb.NewMessage(chainRefDesc)
	if err := stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return unmarshalChainRef(msg), nil
}

func subscribeHeadHandler(srv any, stream grpc.ServerStream) error {
	ref, err := recvChainRef(stream)
	if err != nil {
		return err
	}
	return srv.(NodeServer).SubscribeHead(ref, headSender{stream})
}

func subscribeStatusHandler(srv any, stream grpc.ServerStream) error {
	ref, err := recvChainRef(stream)
	if err != nil {
		return err
	}
	return srv.(NodeServer).SubscribeStatus(ref, statusSender{stream})
}

func describeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	if err := dec(dynamicpb.NewMessage(describeRequestDesc)); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(NodeServer).Describe(ctx, req.(*DescribeRequest))
		if err != nil {
			return nil, err
		}
		return resp.marshal(), nil
	}
	if interceptor == nil {
		return handler(ctx, &DescribeRequest{})
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDescribe}
	return interceptor(ctx, &DescribeRequest{}, info, handler)
}
