package gossip

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Full method names of the gossimon.v1 services.
const (
	GossipPushMethod = "/gossimon.v1.Gossip/Push"
	GossipPullMethod = "/gossimon.v1.Gossip/Pull"

	ControlStatsMethod          = "/gossimon.v1.Control/Stats"
	ControlQueryMethod          = "/gossimon.v1.Control/Query"
	ControlSetWindowMethod      = "/gossimon.v1.Control/SetWindow"
	ControlSetMeasurementMethod = "/gossimon.v1.Control/SetMeasurement"
	ControlMeasurementsMethod   = "/gossimon.v1.Control/Measurements"
	ControlDeathLogMethod       = "/gossimon.v1.Control/DeathLog"
	ControlClearDeathLogMethod  = "/gossimon.v1.Control/ClearDeathLog"
	ControlSetStepMethod        = "/gossimon.v1.Control/SetStep"
)

// GossipServer is the daemon-to-daemon window exchange.
type GossipServer interface {
	Push(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Pull(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// ControlServer is the local client and control channel.
type ControlServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
	SetWindow(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetMeasurement(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Measurements(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	DeathLog(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ClearDeathLog(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SetStep(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// unaryMethod builds a method descriptor the way protoc-gen-go-grpc does
// for a unary call.
func unaryMethod[S any, Req, Resp proto.Message](fullName string, newReq func() Req, call func(S, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: fullName[strings.LastIndexByte(fullName, '/')+1:],
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullName}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func newBytes() *wrapperspb.BytesValue   { return new(wrapperspb.BytesValue) }
func newEmpty() *emptypb.Empty           { return new(emptypb.Empty) }
func newStruct() *structpb.Struct        { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

// GossipServiceDesc describes gossimon.v1.Gossip.
var GossipServiceDesc = grpc.ServiceDesc{
	ServiceName: "gossimon.v1.Gossip",
	HandlerType: (*GossipServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(GossipPushMethod, newBytes, GossipServer.Push),
		unaryMethod(GossipPullMethod, newEmpty, GossipServer.Pull),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossimon/v1/gossip.proto",
}

// ControlServiceDesc describes gossimon.v1.Control.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "gossimon.v1.Control",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(ControlStatsMethod, newEmpty, ControlServer.Stats),
		unaryMethod(ControlQueryMethod, newStruct, ControlServer.Query),
		unaryMethod(ControlSetWindowMethod, newStruct, ControlServer.SetWindow),
		unaryMethod(ControlSetMeasurementMethod, newStruct, ControlServer.SetMeasurement),
		unaryMethod(ControlMeasurementsMethod, newEmpty, ControlServer.Measurements),
		unaryMethod(ControlDeathLogMethod, newEmpty, ControlServer.DeathLog),
		unaryMethod(ControlClearDeathLogMethod, newEmpty, ControlServer.ClearDeathLog),
		unaryMethod(ControlSetStepMethod, newString, ControlServer.SetStep),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossimon/v1/control.proto",
}

// RegisterGossipServer registers srv on s.
func RegisterGossipServer(s grpc.ServiceRegistrar, srv GossipServer) {
	s.RegisterService(&GossipServiceDesc, srv)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// GossipClient calls gossimon.v1.Gossip.
type GossipClient struct {
	cc grpc.ClientConnInterface
}

// NewGossipClient wraps a connection.
func NewGossipClient(cc grpc.ClientConnInterface) *GossipClient {
	return &GossipClient{cc: cc}
}

// Push sends a window message.
func (c *GossipClient) Push(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, GossipPushMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Pull asks the peer for its window message.
func (c *GossipClient) Pull(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, GossipPullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ControlClient calls gossimon.v1.Control.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func invoke[Resp any, PResp interface {
	*Resp
	proto.Message
}](ctx context.Context, cc grpc.ClientConnInterface, method string, in proto.Message, opts []grpc.CallOption) (PResp, error) {
	out := PResp(new(Resp))
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns the vector summary.
func (c *ControlClient) Stats(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, ControlStatsMethod, in, opts)
}

// Query returns a packed query reply.
func (c *ControlClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	return invoke[wrapperspb.BytesValue](ctx, c.cc, ControlQueryMethod, in, opts)
}

// SetWindow switches the window mode or parameter.
func (c *ControlClient) SetWindow(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, ControlSetWindowMethod, in, opts)
}

// SetMeasurement enables or disables an accumulator.
func (c *ControlClient) SetMeasurement(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, ControlSetMeasurementMethod, in, opts)
}

// Measurements returns every accumulator.
func (c *ControlClient) Measurements(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, ControlMeasurementsMethod, in, opts)
}

// DeathLog returns the death log.
func (c *ControlClient) DeathLog(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, ControlDeathLogMethod, in, opts)
}

// ClearDeathLog empties the death log.
func (c *ControlClient) ClearDeathLog(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, ControlClearDeathLogMethod, in, opts)
}

// SetStep switches the gossip step algorithm.
func (c *ControlClient) SetStep(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, ControlSetStepMethod, in, opts)
}
