package delegation

import (
	"context"
	"fmt"
	"testing"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/threshold"
)

func mustKey(t *testing.T, b byte) string {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	return s.PublicKey()
}

func delegatedInception(t *testing.T, delegator string) *event.Message {
	t.Helper()
	m, err := event.Incept(event.InceptionParams{
		Keys:      []string{mustKey(t, 7)},
		Threshold: threshold.Simple(1),
		Delegator: delegator,
	}, event.Options{})
	if err != nil {
		t.Fatalf("Incept: %v", err)
	}
	return m
}

func delegatorInception(t *testing.T) *event.Message {
	t.Helper()
	m, err := event.Incept(event.InceptionParams{
		Keys:      []string{mustKey(t, 1)},
		Threshold: threshold.Simple(1),
	}, event.Options{})
	if err != nil {
		t.Fatalf("Incept: %v", err)
	}
	return m
}

func interaction(t *testing.T, prior *event.Message, anchors ...event.Seal) *event.Message {
	t.Helper()
	m, err := event.Interact(event.InteractionParams{
		Prefix:  prior.Event.Prefix,
		Sn:      prior.SeqNo + 1,
		Prior:   prior.Event.Digest,
		Anchors: anchors,
	}, event.Options{})
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	return m
}

type fakeLog map[string][]*event.Message

func (f fakeLog) lookup(_ context.Context, prefix string, sn uint64) (*event.Message, error) {
	msgs := f[prefix]
	if sn >= uint64(len(msgs)) {
		return nil, fmt.Errorf("%s has no event at sn %d", prefix, sn)
	}
	return msgs[sn], nil
}

func TestResolveApprovesExactSeal(t *testing.T) {
	dip := delegatorInception(t)
	delegate := delegatedInception(t, dip.Event.Prefix)
	r := NewResolver()
	if err := r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: delegate}); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	ixn := interaction(t, dip, delegate.Seal())
	log := fakeLog{dip.Event.Prefix: {dip, ixn}}

	res, err := r.Resolve(context.Background(), delegate.Event.Prefix, ixn.Seal(), log.lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != Approved || res.Seal != ixn.Seal() {
		t.Fatalf("unexpected resolution %+v", res)
	}
	// Approval alone does not drop the event; only a committed one is released.
	if _, ok := r.Pending(delegate.Event.Prefix); !ok {
		t.Fatalf("approved event dropped before release")
	}
	r.Release(delegate.Event.Prefix, "other-digest")
	if _, ok := r.Pending(delegate.Event.Prefix); !ok {
		t.Fatalf("released by a different digest")
	}
	r.Release(delegate.Event.Prefix, delegate.Event.Digest)
	if _, ok := r.Pending(delegate.Event.Prefix); ok {
		t.Fatalf("event still pending after release")
	}
}

func TestResolveWrongSealStaysPending(t *testing.T) {
	dip := delegatorInception(t)
	delegate := delegatedInception(t, dip.Event.Prefix)
	r := NewResolver()
	if err := r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: delegate}); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	ixn := interaction(t, dip, delegate.Seal())
	log := fakeLog{dip.Event.Prefix: {dip, ixn}}

	wrongSn := ixn.Seal()
	wrongSn.Sn = "2"
	wrongDigest := ixn.Seal()
	wrongDigest.Digest = dip.Event.Digest
	wrongPrefix := ixn.Seal()
	wrongPrefix.Prefix = delegate.Event.Prefix

	for _, seal := range []event.Seal{wrongSn, wrongDigest, wrongPrefix, dip.Seal()} {
		res, err := r.Resolve(context.Background(), delegate.Event.Prefix, seal, log.lookup)
		if err != nil {
			t.Fatalf("Resolve(%+v): %v", seal, err)
		}
		if res.Status != StillPending || res.Reason == "" {
			t.Fatalf("Resolve(%+v) = %+v, want pending", seal, res)
		}
	}
	if _, ok := r.Pending(delegate.Event.Prefix); !ok {
		t.Fatalf("event released by a wrong seal")
	}
}

func TestResolveUnanchoredStaysPending(t *testing.T) {
	dip := delegatorInception(t)
	delegate := delegatedInception(t, dip.Event.Prefix)
	r := NewResolver()
	if err := r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: delegate}); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	ixn := interaction(t, dip)
	log := fakeLog{dip.Event.Prefix: {dip, ixn}}
	res, err := r.Resolve(context.Background(), delegate.Event.Prefix, ixn.Seal(), log.lookup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Status != StillPending {
		t.Fatalf("unanchored seal approved")
	}
}

func TestResolveUnknownDelegate(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "nobody", event.Seal{}, fakeLog{}.lookup)
	if !event.IsKind(err, event.KindNotFound) {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestMatchOnDelegatorAppend(t *testing.T) {
	dip := delegatorInception(t)
	delegate := delegatedInception(t, dip.Event.Prefix)
	r := NewResolver()
	if err := r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: delegate}); err != nil {
		t.Fatalf("Hold: %v", err)
	}

	other := interaction(t, dip, event.Seal{Prefix: delegate.Event.Prefix, Sn: "1", Digest: delegate.Event.Digest})
	if got := r.Match(other); len(got) != 0 {
		t.Fatalf("seal with wrong sn matched: %+v", got)
	}

	ixn := interaction(t, dip, delegate.Seal())
	got := r.Match(ixn)
	if len(got) != 1 || got[0].Pending.Message != delegate || got[0].Seal != ixn.Seal() {
		t.Fatalf("unexpected matches %+v", got)
	}
	r.Release(delegate.Event.Prefix, delegate.Event.Digest)
	if got := r.Match(ixn); len(got) != 0 {
		t.Fatalf("released event approved again: %+v", got)
	}
}

func TestHoldConflicts(t *testing.T) {
	dip := delegatorInception(t)
	delegate := delegatedInception(t, dip.Event.Prefix)
	r := NewResolver()
	p := &Pending{Delegator: dip.Event.Prefix, Message: delegate}
	if err := r.Hold(p); err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if err := r.Hold(p); err != nil {
		t.Fatalf("second Hold: %v", err)
	}

	twin := *delegate
	twinEvent := *delegate.Event
	twinEvent.Digest = dip.Event.Digest
	twin.Event = &twinEvent
	err := r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: &twin})
	if !event.IsKind(err, event.KindDuplicity) {
		t.Fatalf("got %v, want duplicity", err)
	}

	later := twin
	later.SeqNo = 1
	err = r.Hold(&Pending{Delegator: dip.Event.Prefix, Message: &later})
	if !event.IsKind(err, event.KindOutOfOrder) {
		t.Fatalf("got %v, want out of order", err)
	}
	if len(r.All()) != 1 {
		t.Fatalf("All = %d, want 1", len(r.All()))
	}
}
