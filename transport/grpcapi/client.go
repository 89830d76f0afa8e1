package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/kel/event"
	"xdao.co/kel/model"
)

// Client calls a KEL daemon.
type Client struct {
	cc     *grpc.ClientConn
	client KELClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra is appended to the default dial options.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewKELClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("grpcapi: client not connected")
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	reply, err := c.client.Call(ctx, method, wrapperspb.Bytes(b))
	if err != nil {
		return mapRPC(err)
	}
	if raw, ok := resp.(*[]byte); ok {
		*raw = reply.GetValue()
		return nil
	}
	return json.Unmarshal(reply.GetValue(), resp)
}

func (c *Client) Propose(ctx context.Context, req model.ProposeRequest) (model.AdmissionResponse, error) {
	var out model.AdmissionResponse
	err := c.call(ctx, methodPropose, req, &out)
	return out, err
}

func (c *Client) CurrentState(ctx context.Context, aid string) (model.StateResponse, error) {
	var out model.StateResponse
	err := c.call(ctx, methodCurrentState, model.StateRequest{AID: aid}, &out)
	return out, err
}

// KeyStateNotice returns the serialized notice document for aid.
func (c *Client) KeyStateNotice(ctx context.Context, aid string) ([]byte, error) {
	var out []byte
	err := c.call(ctx, methodKeyStateNotice, model.StateRequest{AID: aid}, &out)
	return out, err
}

func (c *Client) SubmitWitnessReceipt(ctx context.Context, r event.Receipt) (model.ReceiptResponse, error) {
	var out model.ReceiptResponse
	err := c.call(ctx, methodSubmitWitnessReceipt, r, &out)
	return out, err
}

func (c *Client) ResolveDelegationSeal(ctx context.Context, delegate string, seal event.Seal) (model.ResolutionResponse, error) {
	var out model.ResolutionResponse
	err := c.call(ctx, methodResolveDelegationSeal, model.DelegationRequest{Delegate: delegate, Seal: seal}, &out)
	return out, err
}

func (c *Client) OpenGroupEvent(ctx context.Context, req model.GroupOpenRequest) (model.GroupMergeResponse, error) {
	var out model.GroupMergeResponse
	err := c.call(ctx, methodOpenGroupEvent, req, &out)
	return out, err
}

func (c *Client) MergeGroupPartial(ctx context.Context, group, participant string, sig []byte) (model.GroupMergeResponse, error) {
	var out model.GroupMergeResponse
	err := c.call(ctx, methodMergeGroupPartial, model.GroupPartialRequest{Group: group, Participant: participant, Signature: sig}, &out)
	return out, err
}

func (c *Client) PendingGroupEvent(ctx context.Context, group string) (model.GroupPendingResponse, error) {
	var out model.GroupPendingResponse
	err := c.call(ctx, methodPendingGroupEvent, model.GroupPendingRequest{Group: group}, &out)
	return out, err
}

func (c *Client) Event(ctx context.Context, digest string) (model.EventRecord, error) {
	var out model.EventRecord
	err := c.call(ctx, methodEvent, model.EventRequest{Digest: digest}, &out)
	return out, err
}

func (c *Client) AnchorRegistryEvent(ctx context.Context, raw []byte) (model.RegistryEventResponse, error) {
	var out model.RegistryEventResponse
	err := c.call(ctx, methodAnchorRegistryEvent, model.RegistryEventRequest{Event: raw}, &out)
	return out, err
}

func (c *Client) CredentialStatus(ctx context.Context, regk, vcid string) (model.CredentialResponse, error) {
	var out model.CredentialResponse
	err := c.call(ctx, methodCredentialStatus, model.CredentialRequest{Registry: regk, Credential: vcid}, &out)
	return out, err
}

// StreamReceipts sends receipts over one stream and returns how many the
// daemon read.
func (c *Client) StreamReceipts(ctx context.Context, receipts []event.Receipt) (int, error) {
	if c == nil || c.client == nil {
		return 0, fmt.Errorf("grpcapi: client not connected")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	stream, err := c.client.StreamReceipts(ctx)
	if err != nil {
		return 0, mapRPC(err)
	}
	for _, r := range receipts {
		b, err := json.Marshal(r)
		if err != nil {
			return 0, err
		}
		if err := stream.SendMsg(wrapperspb.Bytes(b)); err != nil {
			return 0, mapRPC(err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return 0, mapRPC(err)
	}
	reply := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(reply); err != nil {
		return 0, mapRPC(err)
	}
	var out model.ReceiptStreamResponse
	if err := json.Unmarshal(reply.GetValue(), &out); err != nil {
		return 0, err
	}
	return out.Received, nil
}
