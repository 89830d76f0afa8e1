package engine_test

import (
	"bytes"
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"xdao.co/kel/delegation"
	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/multisig"
	"xdao.co/kel/storage/bundle"
	"xdao.co/kel/threshold"
)

func TestDelegationPendingUntilAnchored(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	dc := newController(t, 0x10)
	dip := dc.incept(event.InceptionParams{})
	mustPropose(t, e, dc.proposal(dip), engine.Accepted)

	c := newController(t, 0x11)
	icp := c.incept(event.InceptionParams{Delegator: dip.Event.Prefix})
	res := mustPropose(t, e, c.proposal(icp), engine.PendingDelegatorApproval)
	if res.State.Delegator != dip.Event.Prefix {
		t.Fatalf("provisional state %+v", res.State)
	}
	view, err := e.CurrentState(ctx, icp.Event.Prefix)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if view.Pending == nil || *view.Pending != icp.Seal() {
		t.Fatalf("pending seal = %+v", view.Pending)
	}

	// A seal naming the wrong delegator event leaves it pending.
	wrong := dip.Seal()
	rr, err := e.ResolveDelegationSeal(ctx, icp.Event.Prefix, wrong)
	if err != nil {
		t.Fatalf("ResolveDelegationSeal: %v", err)
	}
	if rr.Status != delegation.StillPending {
		t.Fatalf("wrong seal resolved: %+v", rr)
	}
	wrong.Sn = "1"
	if rr, err = e.ResolveDelegationSeal(ctx, icp.Event.Prefix, wrong); err != nil || rr.Status != delegation.StillPending {
		t.Fatalf("seal with wrong sn: %+v, %v", rr, err)
	}

	// The delegator anchoring the exact seal approves it.
	anchor := dc.interact(icp.Seal())
	ares := mustPropose(t, e, dc.proposal(anchor), engine.Accepted)
	if len(ares.Approved) != 1 || ares.Approved[0] != icp.Seal() {
		t.Fatalf("approved = %+v", ares.Approved)
	}

	view, err = e.CurrentState(ctx, icp.Event.Prefix)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if view.Pending != nil || view.State.Digest != icp.Event.Digest {
		t.Fatalf("delegated event not finalized: %+v", view)
	}
	seal, err := e.DelegatorSeal(ctx, icp.Event.Digest)
	if err != nil || seal == nil || *seal != anchor.Seal() {
		t.Fatalf("stored delegator seal = %+v, %v", seal, err)
	}
	// Offering the approving seal again reports the committed approval.
	rr, err = e.ResolveDelegationSeal(ctx, icp.Event.Prefix, anchor.Seal())
	if err != nil || rr.Status != delegation.Approved || rr.Digest != icp.Event.Digest {
		t.Fatalf("repeat resolution = %+v, %v", rr, err)
	}
	if _, err := e.ResolveDelegationSeal(ctx, icp.Event.Prefix, dip.Seal()); !event.IsKind(err, event.KindNotFound) {
		t.Fatalf("got %v, want NotFound for an unrelated seal once approved", err)
	}
}

func TestDelegationAlreadyAnchored(t *testing.T) {
	e := mustEngine(t)
	dc := newController(t, 0x12)
	mustPropose(t, e, dc.proposal(dc.incept(event.InceptionParams{})), engine.Accepted)

	c := newController(t, 0x13)
	icp := c.incept(event.InceptionParams{Delegator: dc.prefix()})
	anchor := dc.interact(icp.Seal())
	mustPropose(t, e, dc.proposal(anchor), engine.Accepted)

	seal := anchor.Seal()
	p := c.proposal(icp)
	p.DelegatorSeal = &seal
	mustPropose(t, e, p, engine.Accepted)

	// The delegated rotation is found in the delegator log without a seal.
	rot := c.rotate(event.RotationParams{})
	mustPropose(t, e, c.proposal(rot), engine.PendingDelegatorApproval)
	mustPropose(t, e, dc.proposal(dc.interact(rot.Seal())), engine.Accepted)
	view, err := e.CurrentState(context.Background(), c.prefix())
	if err != nil || view.State.Sn != 1 || view.State.Keys[0] != c.signer(1).PublicKey() {
		t.Fatalf("delegated rotation not applied: %+v, %v", view.State, err)
	}
}

func TestDelegationRespectsDoNotDelegate(t *testing.T) {
	e := mustEngine(t)
	dc := newController(t, 0x14)
	mustPropose(t, e, dc.proposal(dc.incept(event.InceptionParams{Config: []string{event.TraitDoNotDelegate}})), engine.Accepted)

	c := newController(t, 0x15)
	icp := c.incept(event.InceptionParams{Delegator: dc.prefix()})
	_, err := e.Propose(context.Background(), c.proposal(icp))
	requireKind(t, err, event.KindDelegation)
	if event.RuleID(err) != event.RuleDoNotDelegate {
		t.Fatalf("rule = %s", event.RuleID(err))
	}
}

func TestWitnessRotationThresholdTwo(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	w1, w2, w3, w4 := mustWitness(t, 0x81), mustWitness(t, 0x82), mustWitness(t, 0x83), mustWitness(t, 0x84)

	c := newController(t, 0x16)
	icp := c.incept(event.InceptionParams{Witnesses: []string{w1.PublicKey(), w2.PublicKey(), w3.PublicKey()}, Toad: 2})
	mustPropose(t, e, c.proposal(icp), engine.PendingWitnessConfirmation)

	rot := c.rotate(event.RotationParams{Cuts: []string{w1.PublicKey()}, Adds: []string{w4.PublicKey()}, Toad: 2})
	res := mustPropose(t, e, c.proposal(rot), engine.PendingWitnessConfirmation)
	if len(res.State.Witnesses) != 3 || res.State.Toad != 2 {
		t.Fatalf("witness state %+v", res.State)
	}

	r, err := e.SubmitWitnessReceipt(ctx, receipt(t, w2, rot))
	if err != nil || r.Count != 1 || r.Confirmed {
		t.Fatalf("first receipt: %+v, %v", r, err)
	}
	r, err = e.SubmitWitnessReceipt(ctx, receipt(t, w2, rot))
	if err != nil || r.Count != 1 || r.Added {
		t.Fatalf("duplicate receipt: %+v, %v", r, err)
	}
	_, err = e.SubmitWitnessReceipt(ctx, receipt(t, w1, rot))
	requireKind(t, err, event.KindWitness)

	r, err = e.SubmitWitnessReceipt(ctx, receipt(t, w4, rot))
	if err != nil || r.Count != 2 || !r.Confirmed {
		t.Fatalf("second receipt: %+v, %v", r, err)
	}
	r, err = e.SubmitWitnessReceipt(ctx, receipt(t, w3, rot))
	if err != nil || r.Count != 3 || !r.Confirmed {
		t.Fatalf("receipt after confirmation: %+v, %v", r, err)
	}

	// Cut witnesses still count for events before the rotation.
	r, err = e.SubmitWitnessReceipt(ctx, receipt(t, w1, icp))
	if err != nil || r.Count != 1 {
		t.Fatalf("receipt for inception: %+v, %v", r, err)
	}
}

func TestReceiptBufferedUntilAdmission(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	w := mustWitness(t, 0x85)
	c := newController(t, 0x17)
	icp := c.incept(event.InceptionParams{Witnesses: []string{w.PublicKey()}, Toad: 1})

	r, err := e.SubmitWitnessReceipt(ctx, receipt(t, w, icp))
	if err != nil || !r.Buffered {
		t.Fatalf("early receipt: %+v, %v", r, err)
	}
	res := mustPropose(t, e, c.proposal(icp), engine.Accepted)
	if res.Tally.Receipts != 1 {
		t.Fatalf("tally %+v", res.Tally)
	}
}

func TestSelfReceipt(t *testing.T) {
	w := mustWitness(t, 0x86)
	e := mustEngine(t, engine.WithWitnessSigner(w))
	c := newController(t, 0x18)
	icp := c.incept(event.InceptionParams{Witnesses: []string{w.PublicKey()}, Toad: 1})
	res := mustPropose(t, e, c.proposal(icp), engine.Accepted)
	if !res.Tally.Confirmed {
		t.Fatalf("tally %+v", res.Tally)
	}
}

func TestGroupEventMerge(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)

	var signers []keys.Signer
	var members []multisig.Member
	for i := 0; i < 3; i++ {
		c := newController(t, byte(0x20+i))
		signers = append(signers, c.signer(0))
		members = append(members, multisig.Member{
			AID:     "participant-" + string(rune('a'+i)),
			Key:     c.signer(0).PublicKey(),
			NextKey: c.signer(1).PublicKey(),
		})
	}
	icp, g, err := multisig.Incept(multisig.InceptionParams{
		Members:       members,
		Threshold:     threshold.Simple(2),
		NextThreshold: threshold.Simple(2),
	}, event.Options{})
	if err != nil {
		t.Fatalf("Incept: %v", err)
	}
	if _, err := e.OpenGroupEvent(ctx, engine.GroupProposal{Participants: g.Participants, Raw: icp.Raw}); err != nil {
		t.Fatalf("OpenGroupEvent: %v", err)
	}

	sign := func(i int) []byte {
		sig, err := signers[i].Sign(icp.Raw)
		if err != nil {
			t.Fatal(err)
		}
		return sig
	}
	res, err := e.MergeGroupPartial(ctx, g.Prefix, members[2].AID, sign(2))
	if err != nil || res.Complete || res.Admission != nil {
		t.Fatalf("first partial: %+v, %v", res, err)
	}
	res, err = e.MergeGroupPartial(ctx, g.Prefix, members[2].AID, sign(2))
	if err != nil || len(res.Signatures) != 1 {
		t.Fatalf("repeated partial: %+v, %v", res, err)
	}
	res, err = e.MergeGroupPartial(ctx, g.Prefix, members[0].AID, sign(0))
	if err != nil || !res.Complete || res.Admission == nil || res.Admission.Status != engine.Accepted {
		t.Fatalf("completing partial: %+v, %v", res, err)
	}
	if _, _, ok := e.PendingGroupEvent(g.Prefix); ok {
		t.Fatalf("group event still pending after admission")
	}
	view, err := e.CurrentState(ctx, g.Prefix)
	if err != nil || len(view.State.Keys) != 3 {
		t.Fatalf("group state %+v, %v", view.State, err)
	}
}

func TestProposeSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := mustEngine(t, engine.WithTracerProvider(tp))
	c := newController(t, 0x19)
	mustPropose(t, e, c.proposal(c.incept(event.InceptionParams{})), engine.Accepted)
	_, _ = e.Propose(context.Background(), engine.Proposal{Raw: []byte("garbage")})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name() != "engine.Propose" {
			t.Fatalf("span name %q", s.Name())
		}
	}
	if len(spans[1].Events()) == 0 {
		t.Fatalf("failed proposal recorded no error event")
	}
}

func TestExportImportBundle(t *testing.T) {
	ctx := context.Background()
	src := mustEngine(t)
	w := mustWitness(t, 0x87)

	dc := newController(t, 0x1a)
	mustPropose(t, src, dc.proposal(dc.incept(event.InceptionParams{Witnesses: []string{w.PublicKey()}, Toad: 1})), engine.PendingWitnessConfirmation)
	if _, err := src.SubmitWitnessReceipt(ctx, receipt(t, w, dc.last)); err != nil {
		t.Fatal(err)
	}
	c := newController(t, 0x1b)
	icp := c.incept(event.InceptionParams{Delegator: dc.prefix()})
	mustPropose(t, src, c.proposal(icp), engine.PendingDelegatorApproval)
	mustPropose(t, src, dc.proposal(dc.interact(icp.Seal())), engine.PendingWitnessConfirmation)
	mustPropose(t, src, c.proposal(c.interact()), engine.Accepted)

	var buf bytes.Buffer
	if err := bundle.Export(ctx, &buf, src.Source(), src.Prefixes(), bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatalf("Export: %v", err)
	}
	contents, err := bundle.Read(&buf, bundle.ImportOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	dst := mustEngine(t)
	res, err := dst.Import(ctx, contents)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(res.Rejected) != 0 || res.Receipts != 1 {
		t.Fatalf("import result %+v", res)
	}
	for _, prefix := range src.Prefixes() {
		a, err := src.CurrentState(ctx, prefix)
		if err != nil {
			t.Fatal(err)
		}
		b, err := dst.CurrentState(ctx, prefix)
		if err != nil {
			t.Fatalf("imported %s: %v", prefix, err)
		}
		if !bytes.Equal(stateJSON(t, a.State), stateJSON(t, b.State)) {
			t.Fatalf("state of %s differs after import", prefix)
		}
	}
}
