package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/witness"
)

// ReceiptResult reports the effect of a submitted witness receipt.
type ReceiptResult struct {
	Digest    string
	Count     int
	Added     bool
	Buffered  bool
	Confirmed bool
}

// SubmitWitnessReceipt verifies and records a witness receipt. Receipts for
// events not admitted yet are buffered and checked on admission.
func (e *Engine) SubmitWitnessReceipt(ctx context.Context, r event.Receipt) (ReceiptResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitWitnessReceipt")
	defer span.End()
	span.SetAttributes(attribute.String("kel.digest", r.Digest), attribute.String("kel.witness", r.Witness))

	res, err := e.receipts.Add(ctx, r)
	if err != nil {
		span.RecordError(err)
		return ReceiptResult{Digest: r.Digest}, err
	}
	return ReceiptResult{
		Digest:    r.Digest,
		Count:     res.Count,
		Added:     res.Added,
		Buffered:  res.Buffered,
		Confirmed: res.Confirmed,
	}, nil
}

// Receipts returns the counted receipts of an event.
func (e *Engine) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	if _, ok := e.receipts.Tally(digest); !ok {
		return nil, event.NewError(event.KindNotFound, event.RuleUnknown, "unknown event "+digest)
	}
	return e.receipts.Receipts(digest), nil
}

// RunReceipts feeds receipts from in into the aggregator until in closes or
// ctx is done.
func (e *Engine) RunReceipts(ctx context.Context, in <-chan event.Receipt) error {
	return e.receipts.Run(ctx, in)
}

// selfReceipt receipts m when this engine is one of its witnesses.
func (e *Engine) selfReceipt(ctx context.Context, m *event.Message, st kel.KeyState, t witness.Tally) (witness.Tally, error) {
	if e.witnessSigner == nil {
		return t, nil
	}
	me := e.witnessSigner.PublicKey()
	member := false
	for _, w := range st.Witnesses {
		if w == me {
			member = true
			break
		}
	}
	if !member {
		return t, nil
	}
	sig, err := e.witnessSigner.Sign(m.Raw)
	if err != nil {
		return t, internal("witness signature", err)
	}
	if _, err := e.receipts.Add(ctx, event.Receipt{Digest: m.Event.Digest, Witness: me, Signature: sig}); err != nil {
		return t, internal("self receipt", err)
	}
	t, _ = e.receipts.Tally(m.Event.Digest)
	return t, nil
}
