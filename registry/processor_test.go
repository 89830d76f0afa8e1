package registry

import (
	"bytes"
	"context"
	"testing"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
)

// anchorSet is an issuer log reduced to the seals it anchors.
type anchorSet map[event.Seal]event.Seal

func (a anchorSet) Anchored(_ context.Context, _ string, want event.Seal) (event.Seal, bool) {
	s, ok := a[want]
	return s, ok
}

func (a anchorSet) anchor(m *Message) {
	a[m.Seal()] = event.Seal{Prefix: "issuer", Sn: event.FormatSn(uint64(len(a) + 1)), Digest: "ixn-" + m.Event.Digest}
}

const issuer = "issuer-aid"

func mustIncept(t *testing.T) *Message {
	t.Helper()
	m, err := Incept(issuer, cidutil.Default)
	if err != nil {
		t.Fatalf("Incept: %v", err)
	}
	return m
}

func mustDigest(t *testing.T, s string) string {
	t.Helper()
	d, err := cidutil.Sum(cidutil.Default, []byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func process(t *testing.T, p *Processor, m *Message, want Outcome) {
	t.Helper()
	got, err := p.Process(context.Background(), m.Raw)
	if err != nil {
		t.Fatalf("Process(%s): %v", m.Event.Type, err)
	}
	if got != want {
		t.Fatalf("Process(%s) = %s, want %s", m.Event.Type, got, want)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	anchors := anchorSet{}
	p := NewProcessor(anchors)
	vcp := mustIncept(t)
	if vcp.Event.Prefix != vcp.Event.Digest {
		t.Fatalf("registry identifier is not its digest")
	}

	process(t, p, vcp, AnchorPending)
	anchors.anchor(vcp)
	if n := p.ProcessEscrow(context.Background()); n != 1 {
		t.Fatalf("ProcessEscrow = %d, want 1", n)
	}
	process(t, p, vcp, Duplicate)

	vcid := mustDigest(t, "credential")
	iss, err := Issue(vcid, vcp.Event.Prefix, cidutil.Default)
	if err != nil {
		t.Fatal(err)
	}
	anchors.anchor(iss)
	process(t, p, iss, Accepted)
	st, err := p.Status(vcp.Event.Prefix, vcid)
	if err != nil || st.State != Issued || st.Anchor != anchors[iss.Seal()] {
		t.Fatalf("Status = %+v, %v", st, err)
	}

	rev, err := Revoke(vcid, vcp.Event.Prefix, iss.Event.Digest, cidutil.Default)
	if err != nil {
		t.Fatal(err)
	}
	anchors.anchor(rev)
	process(t, p, rev, Accepted)
	st, err = p.Status(vcp.Event.Prefix, vcid)
	if err != nil || st.State != Revoked || st.Sn != 1 {
		t.Fatalf("Status = %+v, %v", st, err)
	}
}

func TestRegistryOutOfOrder(t *testing.T) {
	anchors := anchorSet{}
	p := NewProcessor(anchors)
	vcp := mustIncept(t)
	vcid := mustDigest(t, "credential")
	iss, _ := Issue(vcid, vcp.Event.Prefix, cidutil.Default)
	rev, _ := Revoke(vcid, vcp.Event.Prefix, iss.Event.Digest, cidutil.Default)
	for _, m := range []*Message{vcp, iss, rev} {
		anchors.anchor(m)
	}

	process(t, p, rev, Escrowed)
	process(t, p, iss, Escrowed)
	if p.Pending() != 2 {
		t.Fatalf("pending = %d", p.Pending())
	}
	process(t, p, vcp, Accepted)
	if n := p.ProcessEscrow(context.Background()); n != 2 {
		t.Fatalf("ProcessEscrow = %d, want 2", n)
	}
	st, err := p.Status(vcp.Event.Prefix, vcid)
	if err != nil || st.State != Revoked {
		t.Fatalf("Status = %+v, %v", st, err)
	}
}

func TestRegistryRejectsConflicts(t *testing.T) {
	anchors := anchorSet{}
	p := NewProcessor(anchors)
	vcp := mustIncept(t)
	anchors.anchor(vcp)
	process(t, p, vcp, Accepted)

	vcid := mustDigest(t, "credential")
	iss, _ := Issue(vcid, vcp.Event.Prefix, cidutil.Default)
	anchors.anchor(iss)
	process(t, p, iss, Accepted)
	process(t, p, iss, Duplicate)

	other, _ := Issue(vcid, vcp.Event.Prefix, cidutil.SHA2256)
	_, err := p.Process(context.Background(), other.Raw)
	if !event.IsKind(err, event.KindDuplicity) {
		t.Fatalf("got %v, want duplicity", err)
	}

	bad, _ := Revoke(vcid, vcp.Event.Prefix, vcp.Event.Digest, cidutil.Default)
	anchors.anchor(bad)
	_, err = p.Process(context.Background(), bad.Raw)
	if !event.IsKind(err, event.KindStructural) {
		t.Fatalf("got %v, want structural", err)
	}

	if _, err := p.Status("nope", vcid); !event.IsKind(err, event.KindNotFound) {
		t.Fatalf("got %v, want NotFound", err)
	}
	if _, err := p.Status(vcp.Event.Prefix, "nope"); !event.IsKind(err, event.KindNotFound) {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	vcp := mustIncept(t)
	if _, err := Decode(vcp.Raw); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tampered := bytes.Replace(vcp.Raw, []byte(issuer), []byte("issuer-xyz"), 1)
	if _, err := Decode(tampered); !event.IsKind(err, event.KindStructural) {
		t.Fatalf("got %v, want structural", err)
	}

	iss, _ := Issue(mustDigest(t, "c"), vcp.Event.Prefix, cidutil.Default)
	swapped := bytes.Replace(iss.Raw, []byte(`"t":"iss"`), []byte(`"t":"rev"`), 1)
	if _, err := Decode(swapped); !event.IsKind(err, event.KindStructural) {
		t.Fatalf("got %v, want structural", err)
	}
}
