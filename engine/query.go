package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/storage"
	"xdao.co/kel/witness"
)

// StateView is the key state of an identifier with the witness tally of its
// latest event.
type StateView struct {
	State kel.KeyState
	Tally witness.Tally
	// Pending is the seal of a delegated event awaiting approval, if any.
	Pending *event.Seal
	// Escrowed counts events held ahead of the log.
	Escrowed int
}

func notFound(aid string) error {
	return event.NewError(event.KindNotFound, event.RuleUnknown, "unknown identifier "+aid)
}

// CurrentState returns the state of aid.
func (e *Engine) CurrentState(ctx context.Context, aid string) (StateView, error) {
	_, span := e.tracer.Start(ctx, "engine.CurrentState")
	defer span.End()

	st, ok := e.state(aid)
	view := StateView{State: st, Escrowed: e.Escrowed(aid)}
	p, held := e.delegations.Pending(aid)
	if held {
		seal := p.Anchor()
		view.Pending = &seal
	}
	switch {
	case ok:
		view.Tally, _ = e.receipts.Tally(st.Digest)
	case held:
		// Inception still awaits its delegator: report the provisional state.
		view.State = p.State.Clone()
	default:
		return view, notFound(aid)
	}
	return view, nil
}

// KeyStateNotice renders the state of aid as a publishable notice.
func (e *Engine) KeyStateNotice(ctx context.Context, aid string) ([]byte, error) {
	st, ok := e.state(aid)
	if !ok {
		return nil, notFound(aid)
	}
	n := kel.NewNotice(st)
	n.IssuedAt = time.Now().UTC()
	if t, ok := e.receipts.Tally(st.Digest); ok {
		n.Receipts = t.Receipts
		n.Witnessed = t.Confirmed
	}
	dups, err := e.store.Duplicitous(ctx, aid)
	if err != nil && !storage.IsNotFound(err) {
		return nil, internal("read duplicity log", err)
	}
	n.Duplicity = len(dups)
	return n.Marshal()
}

// Prefixes lists every identifier with an admitted inception.
func (e *Engine) Prefixes() []string {
	e.statesMu.RLock()
	defer e.statesMu.RUnlock()
	out := make([]string, 0, len(e.states))
	for p := range e.states {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Events returns the log of aid in sequence order.
func (e *Engine) Events(ctx context.Context, aid string) ([]storage.Record, error) {
	if _, ok := e.state(aid); !ok {
		return nil, notFound(aid)
	}
	recs, err := e.store.Events(ctx, aid)
	if err != nil {
		return nil, internal("read log", err)
	}
	return recs, nil
}

// Event returns one admitted event by digest.
func (e *Engine) Event(ctx context.Context, digest string) (storage.Record, error) {
	rec, err := e.store.Event(ctx, digest)
	if err != nil {
		if storage.IsNotFound(err) {
			return rec, event.WrapError(event.KindNotFound, event.RuleUnknown, fmt.Sprintf("event %s", digest), err)
		}
		return rec, internal("read event", err)
	}
	return rec, nil
}

// Duplicitous returns the conflicting events recorded for aid.
func (e *Engine) Duplicitous(ctx context.Context, aid string) ([]storage.Record, error) {
	recs, err := e.store.Duplicitous(ctx, aid)
	if err != nil && !storage.IsNotFound(err) {
		return nil, internal("read duplicity log", err)
	}
	return recs, nil
}
