package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/storage/localfs"
	"xdao.co/kel/threshold"
)

func stateJSON(t *testing.T, st kel.KeyState) []byte {
	t.Helper()
	b, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}
	return b
}

func TestReplayRebuildsSameState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st1, err := localfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := engine.New(ctx, st1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	w := mustWitness(t, 0x70)
	c := newController(t, 0x01)
	icp := c.incept(event.InceptionParams{Witnesses: []string{w.PublicKey()}, Toad: 1})
	mustPropose(t, e1, c.proposal(icp), engine.PendingWitnessConfirmation)
	if _, err := e1.SubmitWitnessReceipt(ctx, receipt(t, w, icp)); err != nil {
		t.Fatalf("SubmitWitnessReceipt: %v", err)
	}
	mustPropose(t, e1, c.proposal(c.interact()), engine.PendingWitnessConfirmation)
	mustPropose(t, e1, c.proposal(c.rotate(event.RotationParams{Toad: 1})), engine.PendingWitnessConfirmation)
	mustPropose(t, e1, c.proposal(c.interact()), engine.PendingWitnessConfirmation)

	v1, err := e1.CurrentState(ctx, c.prefix())
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}

	st2, err := localfs.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := engine.New(ctx, st2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v2, err := e2.CurrentState(ctx, c.prefix())
	if err != nil {
		t.Fatalf("CurrentState after reopen: %v", err)
	}
	if !bytes.Equal(stateJSON(t, v1.State), stateJSON(t, v2.State)) {
		t.Fatalf("replayed state differs:\n%s\n%s", stateJSON(t, v1.State), stateJSON(t, v2.State))
	}
	if v2.State.Sn != 3 || v2.State.LastEst.Sn != 2 {
		t.Fatalf("unexpected state %+v", v2.State)
	}

	rs, err := e2.Receipts(ctx, icp.Event.Digest)
	if err != nil || len(rs) != 1 {
		t.Fatalf("restored receipts = %v, %v", rs, err)
	}
}

func TestSingleSignatureThreshold(t *testing.T) {
	e := mustEngine(t)
	c := newController(t, 0x02)
	icp := c.incept(event.InceptionParams{})

	_, err := e.Propose(context.Background(), engine.Proposal{Raw: icp.Raw})
	requireKind(t, err, event.KindThreshold)

	res := mustPropose(t, e, c.proposal(icp), engine.Accepted)
	if res.Prefix != icp.Event.Digest || res.State.Status != kel.Established {
		t.Fatalf("unexpected result %+v", res)
	}
	mustPropose(t, e, c.proposal(icp), engine.Duplicate)
}

func TestProposalChecks(t *testing.T) {
	e := mustEngine(t)
	c := newController(t, 0x03)
	icp := c.incept(event.InceptionParams{})
	p := c.proposal(icp)

	p.AID = "other"
	_, err := e.Propose(context.Background(), p)
	requireKind(t, err, event.KindStructural)

	p.AID = ""
	p.Kind = event.CBOR
	_, err = e.Propose(context.Background(), p)
	requireKind(t, err, event.KindStructural)

	_, err = e.Propose(context.Background(), engine.Proposal{Raw: []byte("{}")})
	requireKind(t, err, event.KindStructural)
}

func TestRotationRequiresCommittedKeys(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	c := newController(t, 0x04)
	mustPropose(t, e, c.proposal(c.incept(event.InceptionParams{})), engine.Accepted)

	rot := c.rotate(event.RotationParams{})
	mustPropose(t, e, c.proposal(rot), engine.Accepted)

	// A rotation revealing a key other than the committed one.
	c.last, c.idx = rot, c.idx+1
	bad := c.rotate(event.RotationParams{})
	_, err := e.Propose(ctx, c.proposal(bad))
	requireKind(t, err, event.KindPreRotation)

	view, err := e.CurrentState(ctx, c.prefix())
	if err != nil {
		t.Fatal(err)
	}
	if view.State.Sn != 1 {
		t.Fatalf("rejected rotation changed state: sn %d", view.State.Sn)
	}
}

func TestConcurrentProposalsOneWins(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	c := newController(t, 0x05)
	icp := c.incept(event.InceptionParams{})
	mustPropose(t, e, c.proposal(icp), engine.Accepted)

	const n = 8
	props := make([]engine.Proposal, n)
	for i := range props {
		c.last = icp
		m := c.interact(event.Seal{Prefix: icp.Event.Prefix, Sn: event.FormatSn(uint64(i)), Digest: icp.Event.Digest})
		props[i] = c.proposal(m)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range props {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Propose(ctx, props[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		requireKind(t, err, event.KindDuplicity)
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	dups, err := e.Duplicitous(ctx, icp.Event.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(dups) != n-1 {
		t.Fatalf("duplicitous = %d, want %d", len(dups), n-1)
	}
}

func TestParallelIdentifiers(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		c := newController(t, byte(0x40+i))
		icp := c.incept(event.InceptionParams{})
		ixn := c.interact()
		ps := []engine.Proposal{c.proposal(icp), c.proposal(ixn)}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, p := range ps {
				if _, err := e.Propose(ctx, p); err != nil {
					errs[i] = err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("identifier %d: %v", i, err)
		}
	}
	if got := len(e.Prefixes()); got != n {
		t.Fatalf("prefixes = %d, want %d", got, n)
	}
}

func TestDuplicityRecorded(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	c := newController(t, 0x06)
	icp := c.incept(event.InceptionParams{})
	mustPropose(t, e, c.proposal(icp), engine.Accepted)
	first := c.interact()
	mustPropose(t, e, c.proposal(first), engine.Accepted)

	c.last = icp
	second := c.interact(event.Seal{Prefix: "x", Sn: "0", Digest: icp.Event.Digest})

	// Without valid signatures a conflict is just rejected.
	_, err := e.Propose(ctx, engine.Proposal{Raw: second.Raw})
	requireKind(t, err, event.KindThreshold)

	_, err = e.Propose(ctx, c.proposal(second))
	requireKind(t, err, event.KindDuplicity)
	if event.RuleID(err) != event.RuleDuplicity {
		t.Fatalf("rule = %s", event.RuleID(err))
	}
	dups, err := e.Duplicitous(ctx, icp.Event.Prefix)
	if err != nil || len(dups) != 1 || dups[0].Digest != second.Event.Digest {
		t.Fatalf("duplicitous = %+v, %v", dups, err)
	}

	view, err := e.CurrentState(ctx, icp.Event.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	if view.State.Digest != first.Event.Digest {
		t.Fatalf("duplicitous event replaced the log head")
	}

	notice, err := e.KeyStateNotice(ctx, icp.Event.Prefix)
	if err != nil {
		t.Fatal(err)
	}
	n, err := kel.ParseNotice(notice)
	if err != nil {
		t.Fatal(err)
	}
	if n.Duplicity != 1 || n.State.Digest != first.Event.Digest || !n.Witnessed {
		t.Fatalf("unexpected notice %+v", n)
	}
}

func TestOutOfOrderEscrow(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	c := newController(t, 0x07)
	icp := c.incept(event.InceptionParams{})
	ixn1 := c.interact()
	ixn2 := c.interact()
	rot3 := c.rotate(event.RotationParams{})
	rotSigs := c.sigs(rot3)

	c.idx = 0
	mustPropose(t, e, c.proposal(ixn2), engine.Escrowed)
	mustPropose(t, e, engine.Proposal{Raw: rot3.Raw, Signatures: rotSigs}, engine.Escrowed)
	mustPropose(t, e, c.proposal(icp), engine.Accepted)
	if got := e.Escrowed(icp.Event.Prefix); got != 2 {
		t.Fatalf("escrowed = %d, want 2", got)
	}

	res := mustPropose(t, e, c.proposal(ixn1), engine.Accepted)
	if res.State.Sn != 3 || res.State.Digest != rot3.Event.Digest {
		t.Fatalf("escrow not drained: %+v", res.State)
	}
	if got := e.Escrowed(icp.Event.Prefix); got != 0 {
		t.Fatalf("escrowed = %d after drain", got)
	}
	view, err := e.CurrentState(ctx, icp.Event.Prefix)
	if err != nil || view.State.Sn != 3 {
		t.Fatalf("CurrentState = %+v, %v", view.State, err)
	}
}

func TestEscrowBounded(t *testing.T) {
	e := mustEngine(t, engine.WithMaxEscrow(1))
	c := newController(t, 0x08)
	c.incept(event.InceptionParams{})
	c.interact()
	ixn2 := c.interact()
	ixn3 := c.interact()
	mustPropose(t, e, c.proposal(ixn2), engine.Escrowed)
	mustPropose(t, e, c.proposal(ixn2), engine.Escrowed)
	_, err := e.Propose(context.Background(), c.proposal(ixn3))
	requireKind(t, err, event.KindOutOfOrder)
}

func TestEscrowBoundedAcrossIdentifiers(t *testing.T) {
	e := mustEngine(t, engine.WithMaxEscrowIdentifiers(2))
	var ahead []*event.Message
	var controllers []*controller
	for i := byte(0); i < 3; i++ {
		c := newController(t, 0x30+i)
		c.incept(event.InceptionParams{})
		ahead = append(ahead, c.interact())
		controllers = append(controllers, c)
	}
	mustPropose(t, e, controllers[0].proposal(ahead[0]), engine.Escrowed)
	mustPropose(t, e, controllers[1].proposal(ahead[1]), engine.Escrowed)
	_, err := e.Propose(context.Background(), controllers[2].proposal(ahead[2]))
	requireKind(t, err, event.KindOutOfOrder)
	if got := e.Escrowed(ahead[2].Event.Prefix); got != 0 {
		t.Fatalf("escrowed = %d past the identifier bound", got)
	}
	// An identifier already in escrow may still add events.
	second := controllers[0].interact()
	mustPropose(t, e, controllers[0].proposal(second), engine.Escrowed)
}

func TestEstablishmentOnlyAndAbandonment(t *testing.T) {
	ctx := context.Background()
	e := mustEngine(t)
	c := newController(t, 0x09)
	icp := c.incept(event.InceptionParams{Config: []string{event.TraitEstablishmentOnly}})
	mustPropose(t, e, c.proposal(icp), engine.Accepted)

	ixn := c.interact()
	_, err := e.Propose(ctx, c.proposal(ixn))
	requireKind(t, err, event.KindStructural)

	c.last = icp
	c.idx++
	abandon, err := event.Rotate(event.RotationParams{
		Prefix:    icp.Event.Prefix,
		Sn:        1,
		Prior:     icp.Event.Digest,
		Keys:      []string{c.signer(c.idx).PublicKey()},
		Threshold: threshold.Simple(1),
	}, event.Options{})
	if err != nil {
		t.Fatal(err)
	}
	res := mustPropose(t, e, c.proposal(abandon), engine.Accepted)
	if res.State.Status != kel.Abandoned {
		t.Fatalf("status = %s, want abandoned", res.State.Status)
	}

	c.last = abandon
	after := c.interact()
	_, err = e.Propose(ctx, c.proposal(after))
	requireKind(t, err, event.KindStructural)
}
