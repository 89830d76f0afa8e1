package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	log "github.com/ipfs/go-log/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/model"
	"xdao.co/kel/registry"
)

var logger = log.Logger("kel/grpcapi")

// Server exposes an engine and an optional credential registry processor
// over the KEL gRPC service.
type Server struct {
	UnimplementedKELServer
	Engine   *engine.Engine
	Registry *registry.Processor
}

func decode(in *wrapperspb.BytesValue, v any) error {
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return model.NewError(model.ErrInvalidRequest, "decode request: "+err.Error())
	}
	return nil
}

func encode(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) ready() error {
	if s == nil || s.Engine == nil {
		return status.Error(codes.FailedPrecondition, "missing engine")
	}
	return nil
}

func (s *Server) Propose(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.ProposeRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	p, err := model.ToProposal(req)
	if err != nil {
		return nil, mapErr(err)
	}
	res, err := s.Engine.Propose(ctx, p)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromAdmission(res))
}

func (s *Server) CurrentState(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.StateRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	v, err := s.Engine.CurrentState(ctx, req.AID)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromStateView(v))
}

func (s *Server) KeyStateNotice(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.StateRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	b, err := s.Engine.KeyStateNotice(ctx, req.AID)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) SubmitWitnessReceipt(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req event.Receipt
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	res, err := s.Engine.SubmitWitnessReceipt(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromReceipt(res))
}

func (s *Server) ResolveDelegationSeal(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.DelegationRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	res, err := s.Engine.ResolveDelegationSeal(ctx, req.Delegate, req.Seal)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromResolution(res))
}

func (s *Server) OpenGroupEvent(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.GroupOpenRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	res, err := s.Engine.OpenGroupEvent(ctx, engine.GroupProposal{
		Participants:  req.Participants,
		Raw:           req.Event,
		DelegatorSeal: req.DelegatorSeal,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromGroupMerge(engine.GroupMergeResult{MergeResult: res}))
}

func (s *Server) MergeGroupPartial(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.GroupPartialRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	res, err := s.Engine.MergeGroupPartial(ctx, req.Group, req.Participant, req.Signature)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.FromGroupMerge(res))
}

func (s *Server) PendingGroupEvent(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.GroupPendingRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	raw, participants, ok := s.Engine.PendingGroupEvent(req.Group)
	if !ok {
		return nil, mapErr(event.NewError(event.KindNotFound, event.RuleUnknown, "no pending event for group "+req.Group))
	}
	return encode(model.GroupPendingResponse{Group: req.Group, Event: raw, Participants: participants})
}

func (s *Server) Event(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req model.EventRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	rec, err := s.Engine.Event(ctx, req.Digest)
	if err != nil {
		return nil, mapErr(err)
	}
	rcts, err := s.Engine.Receipts(ctx, req.Digest)
	if err != nil && !event.IsKind(err, event.KindNotFound) {
		return nil, mapErr(err)
	}
	return encode(model.FromRecord(rec, rcts))
}

func (s *Server) AnchorRegistryEvent(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing registry processor")
	}
	var req model.RegistryEventRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	m, err := registry.Decode(req.Event)
	if err != nil {
		return nil, mapErr(err)
	}
	out, err := s.Registry.Process(ctx, req.Event)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.RegistryEventResponse{Outcome: string(out), Prefix: m.Event.Prefix, Digest: m.Event.Digest})
}

func (s *Server) CredentialStatus(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Registry == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing registry processor")
	}
	var req model.CredentialRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	st, err := s.Registry.Status(req.Registry, req.Credential)
	if err != nil {
		return nil, mapErr(err)
	}
	return encode(model.CredentialResponse{Status: st})
}

// StreamReceipts feeds a client stream of receipts into the engine's
// aggregator. Rejected receipts are logged by the aggregator.
func (s *Server) StreamReceipts(stream grpc.ServerStream) error {
	if err := s.ready(); err != nil {
		return err
	}
	ctx := stream.Context()
	in := make(chan event.Receipt)
	done := make(chan error, 1)
	go func() { done <- s.Engine.RunReceipts(ctx, in) }()
	finish := func() error {
		close(in)
		return <-done
	}

	n := 0
	for {
		msg := new(wrapperspb.BytesValue)
		err := stream.RecvMsg(msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = finish()
			return err
		}
		var r event.Receipt
		if err := decode(msg, &r); err != nil {
			_ = finish()
			return mapErr(err)
		}
		select {
		case in <- r:
			n++
		case <-ctx.Done():
			_ = finish()
			return status.FromContextError(ctx.Err()).Err()
		}
	}
	if err := finish(); err != nil {
		return status.FromContextError(err).Err()
	}
	out, err := encode(model.ReceiptStreamResponse{Received: n})
	if err != nil {
		return err
	}
	return stream.SendMsg(out)
}
