package gossip

import (
	"context"
	"errors"
	"log"
	"net/netip"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"gossimon/internal/vector"
	"gossimon/internal/wire"
)

var errNoVector = status.Error(codes.FailedPrecondition, "information vector not initialized")

// Server implements the Gossip gRPC service.
type Server struct {
	vectorGetter func() *vector.Vector // Thread-safe vector getter
}

// NewServer creates a new gossip server.
func NewServer(vectorGetter func() *vector.Vector) *Server {
	return &Server{vectorGetter: vectorGetter}
}

// Push merges a window message sent by a peer.
func (s *Server) Push(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	v := s.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	if _, err := wire.ApplyWindow(v, req.GetValue()); err != nil {
		log.Printf("[%s] Rejected pushed window: %v", v.LocalIP(), err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Pull answers with the window message this node would push.
func (s *Server) Pull(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	v := s.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	msg := wire.EncodeWindow(v.Signature(), v.OutboundWindow(), v.Now())
	return wrapperspb.Bytes(msg), nil
}

// Control implements the Control gRPC service.
type Control struct {
	vectorGetter func() *vector.Vector
	scheduler    *Scheduler
	startTime    time.Time
}

// NewControl creates a control server. scheduler may be nil, in which case
// step changes are refused.
func NewControl(vectorGetter func() *vector.Vector, scheduler *Scheduler) *Control {
	return &Control{
		vectorGetter: vectorGetter,
		scheduler:    scheduler,
		startTime:    time.Now(),
	}
}

// Stats returns the vector summary and the active settings.
func (c *Control) Stats(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	st := v.Stats()
	wc := v.WindowConfig()
	fields := map[string]any{
		"local_ip":         v.LocalIP().String(),
		"total":            st.Total,
		"alive":            st.Alive,
		"avg_age":          st.AvgAge,
		"max_age":          st.MaxAge,
		"signature":        v.Signature(),
		"window_mode":      wc.Mode.String(),
		"window_param":     wc.Param,
		"window_k":         wc.K,
		"window_upto_ms":   wc.UptoAge.Milliseconds(),
		"window_capacity":  wc.Capacity,
		"window_used":      wc.Used,
		"window_send_size": wc.SendSize,
		"max_priority":     wc.MaxPriority,
		"uptime_seconds":   uint64(time.Since(c.startTime).Seconds()),
	}
	if c.scheduler != nil {
		fields["step"] = c.scheduler.StepName()
	}
	return newStructOrInternal(fields)
}

// Query returns a packed reply for the requested entries. The request may
// name explicit addresses ("ips"), a contiguous range ("base", "count"),
// an age limit ("younger_than_ms"), or nothing for the whole vector.
func (c *Control) Query(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	f := req.GetFields()

	var entries []*vector.Entry
	switch {
	case f["ips"] != nil:
		var ips []netip.Addr
		for _, item := range f["ips"].GetListValue().GetValues() {
			ip, err := netip.ParseAddr(item.GetStringValue())
			if err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "ips: %v", err)
			}
			ips = append(ips, ip)
		}
		entries = v.EntriesByIP(ips)
	case f["base"] != nil:
		base, err := netip.ParseAddr(f["base"].GetStringValue())
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "base: %v", err)
		}
		count := f["count"].GetNumberValue()
		if !(count >= 1 && count <= vector.MaxRangeCount) {
			return nil, status.Errorf(codes.InvalidArgument, "count must be between 1 and %d", vector.MaxRangeCount)
		}
		entries, err = v.EntriesInRange(base, int(count))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	case f["younger_than_ms"] != nil:
		age := time.Duration(f["younger_than_ms"].GetNumberValue()) * time.Millisecond
		entries = v.EntriesYoungerThan(age)
	default:
		entries = v.AllEntries()
	}

	b, err := wire.PackQueryReply(entries, nil)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(b), nil
}

// SetWindow switches the window. An empty mode keeps the current one.
func (c *Control) SetWindow(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	f := req.GetFields()

	mode := v.WindowConfig().Mode
	if name := f["mode"].GetStringValue(); name != "" {
		m, err := vector.ParseWindowMode(name)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		mode = m
	}
	if err := v.SetWindow(mode, int(f["param"].GetNumberValue())); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	log.Printf("[%s] Window set to %s param=%d", v.LocalIP(), mode, int(f["param"].GetNumberValue()))
	return &emptypb.Empty{}, nil
}

// SetMeasurement enables or disables one accumulator and optionally sets
// the upto-age threshold.
func (c *Control) SetMeasurement(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	f := req.GetFields()

	if th, ok := f["upto_age_ms"]; ok {
		v.SetUptoAgeThreshold(time.Duration(th.GetNumberValue()) * time.Millisecond)
	}
	if f["kind"] == nil {
		return &emptypb.Empty{}, nil
	}
	kind, err := vector.ParseMeasureKind(f["kind"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if f["enabled"].GetBoolValue() {
		err = v.EnableMeasurement(kind, int(f["max_samples"].GetNumberValue()))
	} else {
		err = v.DisableMeasurement(kind)
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Measurements returns every accumulator.
func (c *Control) Measurements(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	list := make([]any, 0)
	for _, m := range v.Measurements() {
		list = append(list, map[string]any{
			"kind":        m.Kind.String(),
			"enabled":     m.Enabled,
			"samples":     m.Samples,
			"max_samples": m.MaxSamples,
			"average":     m.Average,
		})
	}
	return newStructOrInternal(map[string]any{"measurements": list})
}

// DeathLog returns the recorded deaths, oldest first.
func (c *Control) DeathLog(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	list := make([]any, 0)
	for _, r := range v.DeathLog() {
		list = append(list, map[string]any{
			"ip":             r.IP.String(),
			"propagation_ms": r.PropagationMillis,
		})
	}
	return newStructOrInternal(map[string]any{"records": list})
}

// ClearDeathLog empties the death log.
func (c *Control) ClearDeathLog(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	v := c.vectorGetter()
	if v == nil {
		return nil, errNoVector
	}
	v.ClearDeathLog()
	return &emptypb.Empty{}, nil
}

// SetStep switches the gossip step algorithm.
func (c *Control) SetStep(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if c.scheduler == nil {
		return nil, status.Error(codes.FailedPrecondition, "no scheduler running")
	}
	if err := c.scheduler.SetStep(req.GetValue()); err != nil {
		if errors.Is(err, ErrUnknownStep) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	log.Printf("[%s] Gossip step set to %s", c.scheduler.localName(), req.GetValue())
	return &emptypb.Empty{}, nil
}

func newStructOrInternal(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}
