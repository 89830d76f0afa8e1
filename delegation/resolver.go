// Package delegation holds delegated establishment events until the
// delegator anchors their seal in its own log.
//
// Delegation is cooperative: the delegate's event is fully validated
// against the delegate's key state first, and only then waits here. There
// is no timeout; an event waits until a matching seal appears.
package delegation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/ipfs/go-log/v2"

	"xdao.co/kel/event"
	"xdao.co/kel/kel"
)

var logger = log.Logger("kel/delegation")

// Pending is a delegated event awaiting approval.
type Pending struct {
	Delegator  string
	Message    *event.Message
	Signatures []event.Signature
	// State is the provisional key state the delegate will have once the
	// event is approved.
	State    kel.KeyState
	Received time.Time
}

// Anchor is the seal the delegator must anchor to approve p.
func (p *Pending) Anchor() event.Seal { return p.Message.Seal() }

// Status of a resolution attempt.
type Status string

const (
	Approved     Status = "approved"
	StillPending Status = "pending"
)

// Resolution is the outcome of Resolve.
type Resolution struct {
	Status  Status
	Pending *Pending
	// Seal locates the approving delegator event when Status is Approved.
	Seal event.Seal
	// Reason explains why the event is still pending.
	Reason string
}

// Lookup returns the delegator's event at sn, or an error wrapping
// storage.ErrNotFound when the delegator log does not reach sn.
type Lookup func(ctx context.Context, prefix string, sn uint64) (*event.Message, error)

// Resolver is safe for concurrent use. It holds at most one pending event
// per delegate: a delegate cannot advance past an unapproved establishment
// event.
type Resolver struct {
	mu         sync.Mutex
	byDelegate map[string]*Pending
}

func NewResolver() *Resolver {
	return &Resolver{byDelegate: map[string]*Pending{}}
}

// Hold records p. Holding the same event twice is a no-op.
func (r *Resolver) Hold(p *Pending) error {
	prefix := p.Message.Event.Prefix
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byDelegate[prefix]; ok {
		switch {
		case cur.Message.Event.Digest == p.Message.Event.Digest:
			return nil
		case cur.Message.SeqNo == p.Message.SeqNo:
			return event.NewError(event.KindDuplicity, event.RuleDuplicity,
				fmt.Sprintf("a different event at sn %d already awaits delegator approval", p.Message.SeqNo))
		default:
			return event.NewError(event.KindOutOfOrder, event.RuleOutOfOrder,
				fmt.Sprintf("event at sn %d awaits delegator approval", cur.Message.SeqNo))
		}
	}
	if p.Received.IsZero() {
		p.Received = time.Now().UTC()
	}
	r.byDelegate[prefix] = p
	logger.Infof("holding %s %s sn %d for approval by %s", p.Message.Event.Type, prefix, p.Message.SeqNo, p.Delegator)
	return nil
}

// Pending returns the event awaiting approval for delegate, if any.
func (r *Resolver) Pending(delegate string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byDelegate[delegate]
	return p, ok
}

// All returns every pending event ordered by delegate.
func (r *Resolver) All() []*Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Pending, 0, len(r.byDelegate))
	for _, p := range r.byDelegate {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message.Event.Prefix < out[j].Message.Event.Prefix })
	return out
}

// Release drops the pending event for delegate if its digest matches.
func (r *Resolver) Release(delegate, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byDelegate[delegate]; ok && p.Message.Event.Digest == digest {
		delete(r.byDelegate, delegate)
	}
}

func anchors(m *event.Message, want event.Seal) bool {
	for _, a := range m.Event.Anchors {
		if a == want {
			return true
		}
	}
	return false
}

// Resolve checks seal against the delegator's log. When the delegator event
// at seal's position has exactly seal's digest and anchors the pending
// event, it is returned as Approved. The event stays held until the caller
// commits it and calls Release; any mismatch leaves it pending.
func (r *Resolver) Resolve(ctx context.Context, delegate string, seal event.Seal, lookup Lookup) (Resolution, error) {
	p, ok := r.Pending(delegate)
	if !ok {
		return Resolution{}, event.NewError(event.KindNotFound, event.RuleUnknown,
			fmt.Sprintf("no event of %s awaits delegator approval", delegate))
	}
	pending := func(reason string) (Resolution, error) {
		logger.Debugf("seal for %s not accepted: %s", delegate, reason)
		return Resolution{Status: StillPending, Pending: p, Reason: reason}, nil
	}
	if seal.Prefix != p.Delegator {
		return pending("seal names another delegator")
	}
	sn, err := event.ParseSn(seal.Sn)
	if err != nil {
		return pending("seal sequence number is malformed")
	}
	m, err := lookup(ctx, seal.Prefix, sn)
	if err != nil {
		return pending(fmt.Sprintf("delegator event not available: %v", err))
	}
	if m.Event.Digest != seal.Digest {
		return pending("delegator event digest differs from the seal")
	}
	if m.Event.Type == event.Inception {
		return pending("approval must come from a rotation or interaction")
	}
	if !anchors(m, p.Anchor()) {
		return pending("delegator event does not anchor the delegated event")
	}

	logger.Infof("approved %s sn %d by %s sn %d", delegate, p.Message.SeqNo, seal.Prefix, sn)
	return Resolution{Status: Approved, Pending: p, Seal: seal}, nil
}

// Match is called with each event appended to a delegator's log. It returns
// the pending events that m approves; they stay held until released.
func (r *Resolver) Match(m *event.Message) []Resolution {
	if m.Event.Type == event.Inception || len(m.Event.Anchors) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Resolution
	for _, a := range m.Event.Anchors {
		p, ok := r.byDelegate[a.Prefix]
		if !ok || p.Delegator != m.Event.Prefix || a != p.Anchor() {
			continue
		}
		logger.Infof("approved %s sn %d by %s sn %d", a.Prefix, p.Message.SeqNo, m.Event.Prefix, m.SeqNo)
		out = append(out, Resolution{Status: Approved, Pending: p, Seal: m.Seal()})
	}
	return out
}
