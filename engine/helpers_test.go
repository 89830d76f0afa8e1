package engine_test

import (
	"context"
	"testing"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/engine"
	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/storage/memory"
	"xdao.co/kel/threshold"
)

// controller drives one single-key identifier with keys derived from a
// root seed: key i signs establishment i.
type controller struct {
	t    *testing.T
	root []byte
	idx  uint32
	last *event.Message
}

func newController(t *testing.T, b byte) *controller {
	t.Helper()
	root := make([]byte, keys.SeedSize)
	for i := range root {
		root[i] = b
	}
	return &controller{t: t, root: root}
}

func (c *controller) signer(i uint32) keys.Signer {
	c.t.Helper()
	s, err := keys.SignerAt(keys.Ed25519, c.root, i)
	if err != nil {
		c.t.Fatalf("SignerAt: %v", err)
	}
	return s
}

func (c *controller) commit(i uint32) string {
	c.t.Helper()
	n, err := prerotation.Commit([]string{c.signer(i).PublicKey()}, threshold.Simple(1), cidutil.Default)
	if err != nil {
		c.t.Fatalf("Commit: %v", err)
	}
	return n
}

func (c *controller) prefix() string { return c.last.Event.Prefix }

func (c *controller) incept(p event.InceptionParams) *event.Message {
	c.t.Helper()
	p.Keys = []string{c.signer(0).PublicKey()}
	p.Threshold = threshold.Simple(1)
	if p.Next == "" {
		p.Next = c.commit(1)
	}
	p.NextThreshold = threshold.Simple(1)
	m, err := event.Incept(p, event.Options{})
	if err != nil {
		c.t.Fatalf("Incept: %v", err)
	}
	c.last = m
	return m
}

func (c *controller) interact(anchors ...event.Seal) *event.Message {
	c.t.Helper()
	m, err := event.Interact(event.InteractionParams{
		Prefix:  c.last.Event.Prefix,
		Sn:      c.last.SeqNo + 1,
		Prior:   c.last.Event.Digest,
		Anchors: anchors,
	}, event.Options{})
	if err != nil {
		c.t.Fatalf("Interact: %v", err)
	}
	c.last = m
	return m
}

// rotate reveals the committed key and commits to the one after it.
func (c *controller) rotate(p event.RotationParams) *event.Message {
	c.t.Helper()
	c.idx++
	p.Prefix = c.last.Event.Prefix
	p.Sn = c.last.SeqNo + 1
	p.Prior = c.last.Event.Digest
	p.Keys = []string{c.signer(c.idx).PublicKey()}
	p.Threshold = threshold.Simple(1)
	p.Next = c.commit(c.idx + 1)
	p.NextThreshold = threshold.Simple(1)
	m, err := event.Rotate(p, event.Options{})
	if err != nil {
		c.t.Fatalf("Rotate: %v", err)
	}
	c.last = m
	return m
}

func (c *controller) sigs(m *event.Message) []event.Signature {
	c.t.Helper()
	sig, err := c.signer(c.idx).Sign(m.Raw)
	if err != nil {
		c.t.Fatalf("Sign: %v", err)
	}
	return []event.Signature{{Index: 0, Sig: sig}}
}

func (c *controller) proposal(m *event.Message) engine.Proposal {
	return engine.Proposal{Raw: m.Raw, Signatures: c.sigs(m)}
}

func mustEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e, err := engine.New(context.Background(), memory.New(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func mustPropose(t *testing.T, e *engine.Engine, p engine.Proposal, want engine.Status) engine.AdmissionResult {
	t.Helper()
	res, err := e.Propose(context.Background(), p)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Status != want {
		t.Fatalf("status = %s, want %s", res.Status, want)
	}
	return res
}

func requireKind(t *testing.T, err error, kind event.Kind) {
	t.Helper()
	if !event.IsKind(err, kind) {
		t.Fatalf("got %v (kind=%s), want %s", err, event.KindOf(err), kind)
	}
}

func mustWitness(t *testing.T, b byte) keys.Signer {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	return s
}

func receipt(t *testing.T, w keys.Signer, m *event.Message) event.Receipt {
	t.Helper()
	sig, err := w.Sign(m.Raw)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return event.Receipt{Digest: m.Event.Digest, Witness: w.PublicKey(), Signature: sig}
}
