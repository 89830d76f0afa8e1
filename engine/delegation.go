package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"xdao.co/kel/delegation"
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/storage"
	"xdao.co/kel/witness"
)

// needsApproval reports whether m is a delegated establishment event.
func (e *Engine) needsApproval(cur kel.KeyState, m *event.Message) bool {
	switch m.Event.Type {
	case event.Inception:
		return m.Event.Delegator != ""
	case event.Rotation:
		return cur.IsDelegated()
	}
	return false
}

func delegatorOf(cur kel.KeyState, m *event.Message) string {
	if m.Event.Type == event.Inception {
		return m.Event.Delegator
	}
	return cur.Delegator
}

func (e *Engine) checkDelegator(delegator string) error {
	st, ok := e.state(delegator)
	if ok && st.HasTrait(event.TraitDoNotDelegate) {
		return event.NewError(event.KindDelegation, event.RuleDoNotDelegate,
			fmt.Sprintf("%s does not delegate", delegator))
	}
	return nil
}

// holdDelegated validates a delegated establishment event and parks it until
// its delegator anchors it. An attached seal, or an anchor already in the
// delegator's log, approves it at once.
func (e *Engine) holdDelegated(ctx context.Context, res AdmissionResult, cur kel.KeyState, m *event.Message, sigs []event.Signature, seal *event.Seal) (AdmissionResult, followups, error) {
	delegator := delegatorOf(cur, m)
	if err := e.checkDelegator(delegator); err != nil {
		return res, followups{}, err
	}
	v, err := kel.Validate(cur, m, sigs)
	if err != nil {
		return res, followups{}, err
	}
	p := &delegation.Pending{Delegator: delegator, Message: m, Signatures: sigs, State: v.State}
	if err := e.delegations.Hold(p); err != nil {
		if event.IsKind(err, event.KindDuplicity) {
			return res, followups{}, e.recordDuplicity(ctx, m, sigs, "a different event awaits delegator approval")
		}
		return res, followups{}, err
	}
	if err := e.store.PutPending(ctx, pendingRecord(m, sigs)); err != nil {
		e.delegations.Release(m.Event.Prefix, m.Event.Digest)
		return res, followups{}, internal("persist pending event", err)
	}

	var resolution delegation.Resolution
	if seal != nil {
		resolution, err = e.delegations.Resolve(ctx, m.Event.Prefix, *seal, e.lookup)
	} else if found, ok := e.findAnchor(ctx, delegator, p.Anchor()); ok {
		resolution, err = e.delegations.Resolve(ctx, m.Event.Prefix, found, e.lookup)
	}
	if err != nil {
		return res, followups{}, err
	}
	if resolution.Status != delegation.Approved {
		res.Status = PendingDelegatorApproval
		res.State = v.State
		return res, followups{}, nil
	}

	st, f, tally, err := e.finalizeLocked(ctx, resolution)
	if err != nil {
		return res, followups{}, err
	}
	res.Status = statusOf(tally)
	res.State = st
	res.Tally = tally
	return res, f, nil
}

// findAnchor searches delegator's log for an interaction or rotation
// anchoring want and returns the seal of that event.
func (e *Engine) findAnchor(ctx context.Context, delegator string, want event.Seal) (event.Seal, bool) {
	recs, err := e.store.Events(ctx, delegator)
	if err != nil {
		return event.Seal{}, false
	}
	for i := len(recs) - 1; i >= 0; i-- {
		m, err := event.Decode(recs[i].Raw)
		if err != nil || m.Event.Type == event.Inception {
			continue
		}
		for _, a := range m.Event.Anchors {
			if a == want {
				return m.Seal(), true
			}
		}
	}
	return event.Seal{}, false
}

// Anchored reports the seal of the event in issuer's log that anchors want.
func (e *Engine) Anchored(ctx context.Context, issuer string, want event.Seal) (event.Seal, bool) {
	return e.findAnchor(ctx, issuer, want)
}

func pendingRecord(m *event.Message, sigs []event.Signature) storage.Record {
	return storage.Record{
		Prefix:     m.Event.Prefix,
		Sn:         m.SeqNo,
		Digest:     m.Event.Digest,
		Raw:        m.Raw,
		Signatures: sigs,
	}
}

// release drops a held delegated event once it is committed or rejected for
// good.
func (e *Engine) release(ctx context.Context, m *event.Message) {
	e.delegations.Release(m.Event.Prefix, m.Event.Digest)
	if err := e.store.DeletePending(ctx, m.Event.Prefix, m.Event.Digest); err != nil {
		logger.Warnf("clearing pending %s sn %d: %v", m.Event.Prefix, m.SeqNo, err)
	}
}

// finalize commits an approved delegated event, taking the delegate's lock.
func (e *Engine) finalize(ctx context.Context, r delegation.Resolution) (kel.KeyState, followups, error) {
	unlock := e.lock(r.Pending.Message.Event.Prefix)
	defer unlock()
	st, f, _, err := e.finalizeLocked(ctx, r)
	return st, f, err
}

// finalizeLocked commits r and only then releases the held event, so a
// failed commit leaves it pending. An event another resolution already
// committed is reported as finalized.
func (e *Engine) finalizeLocked(ctx context.Context, r delegation.Resolution) (kel.KeyState, followups, witness.Tally, error) {
	p := r.Pending
	m := p.Message
	prefix := m.Event.Prefix
	if held, ok := e.delegations.Pending(prefix); !ok || held.Message.Event.Digest != m.Event.Digest {
		if rec, err := e.store.Event(ctx, m.Event.Digest); err == nil && rec.Prefix == prefix {
			st, _ := e.state(prefix)
			tally, _ := e.receipts.Tally(m.Event.Digest)
			return st, followups{}, tally, nil
		}
		return kel.KeyState{}, followups{}, witness.Tally{}, event.NewError(event.KindNotFound, event.RuleUnknown,
			fmt.Sprintf("no event of %s awaits delegator approval", prefix))
	}
	if err := e.checkDelegator(p.Delegator); err != nil {
		logger.Errorf("dropping %s sn %d: %v", prefix, m.SeqNo, err)
		e.release(ctx, m)
		return kel.KeyState{}, followups{}, witness.Tally{}, err
	}
	cur, _ := e.state(prefix)
	st, err := kel.Apply(cur, m, p.Signatures)
	if err != nil {
		return kel.KeyState{}, followups{}, witness.Tally{}, err
	}
	seal := r.Seal
	f, tally, err := e.commit(ctx, m, p.Signatures, st, &seal)
	if err != nil {
		return kel.KeyState{}, followups{}, tally, err
	}
	e.release(ctx, m)
	return st, f, tally, nil
}

// ResolutionResult is the outcome of ResolveDelegationSeal.
type ResolutionResult struct {
	Status delegation.Status
	Prefix string
	Sn     uint64
	Digest string
	Reason string
	State  kel.KeyState
}

// ResolveDelegationSeal offers seal as the delegator approval of the event
// delegate is waiting on. A seal that does not match exactly leaves the
// event pending. Offering the seal of an approval that was already
// committed reports it as approved.
func (e *Engine) ResolveDelegationSeal(ctx context.Context, delegate string, seal event.Seal) (ResolutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ResolveDelegationSeal")
	defer span.End()
	span.SetAttributes(attribute.String("kel.prefix", delegate))

	unlock := e.lock(delegate)
	r, err := e.delegations.Resolve(ctx, delegate, seal, e.lookup)
	if err != nil {
		unlock()
		if event.IsKind(err, event.KindNotFound) {
			if out, ok := e.approvedBy(ctx, delegate, seal); ok {
				return out, nil
			}
		}
		span.RecordError(err)
		return ResolutionResult{}, err
	}
	m := r.Pending.Message
	out := ResolutionResult{Status: r.Status, Prefix: delegate, Sn: m.SeqNo, Digest: m.Event.Digest, Reason: r.Reason}
	if r.Status != delegation.Approved {
		unlock()
		out.State = r.Pending.State
		return out, nil
	}
	st, f, _, err := e.finalizeLocked(ctx, r)
	unlock()
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	e.afterCommit(ctx, f)
	out.State = st
	return out, nil
}

// approvedBy finds the committed event of delegate approved by seal.
func (e *Engine) approvedBy(ctx context.Context, delegate string, seal event.Seal) (ResolutionResult, bool) {
	recs, err := e.store.Events(ctx, delegate)
	if err != nil {
		return ResolutionResult{}, false
	}
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if rec.DelegatorSeal == nil || *rec.DelegatorSeal != seal {
			continue
		}
		st, _ := e.state(delegate)
		return ResolutionResult{Status: delegation.Approved, Prefix: delegate, Sn: rec.Sn, Digest: rec.Digest, State: st}, true
	}
	return ResolutionResult{}, false
}

// restorePending re-holds the delegated events persisted before a restart
// and finalizes those whose anchor is already in the delegator's log.
func (e *Engine) restorePending(ctx context.Context) error {
	recs, err := e.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("engine: load pending events: %w", err)
	}
	for _, rec := range recs {
		m, err := event.Decode(rec.Raw)
		if err != nil {
			logger.Warnf("ignoring stored pending event %s: %v", rec.Digest, err)
			continue
		}
		cur, known := e.state(rec.Prefix)
		if known && m.SeqNo <= cur.Sn {
			if err := e.store.DeletePending(ctx, rec.Prefix, rec.Digest); err != nil {
				logger.Warnf("clearing pending %s sn %d: %v", rec.Prefix, rec.Sn, err)
			}
			continue
		}
		v, err := kel.Validate(cur, m, rec.Signatures)
		if err != nil {
			logger.Warnf("ignoring stored pending event %s sn %d: %v", rec.Prefix, rec.Sn, err)
			continue
		}
		p := &delegation.Pending{Delegator: delegatorOf(cur, m), Message: m, Signatures: rec.Signatures, State: v.State}
		if err := e.delegations.Hold(p); err != nil {
			logger.Warnf("ignoring stored pending event %s sn %d: %v", rec.Prefix, rec.Sn, err)
		}
	}
	for _, p := range e.delegations.All() {
		found, ok := e.findAnchor(ctx, p.Delegator, p.Anchor())
		if !ok {
			continue
		}
		if _, err := e.ResolveDelegationSeal(ctx, p.Message.Event.Prefix, found); err != nil {
			logger.Warnf("finalizing restored %s sn %d: %v", p.Message.Event.Prefix, p.Message.SeqNo, err)
		}
	}
	if n := len(e.delegations.All()); n > 0 {
		logger.Infof("restored %d events awaiting delegator approval", n)
	}
	return nil
}

// PendingDelegations lists the events awaiting delegator approval.
func (e *Engine) PendingDelegations() []*delegation.Pending {
	return e.delegations.All()
}

// DelegatorSeal returns the approving seal stored with a delegated event.
func (e *Engine) DelegatorSeal(ctx context.Context, digest string) (*event.Seal, error) {
	rec, err := e.store.Event(ctx, digest)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, event.WrapError(event.KindNotFound, event.RuleUnknown, digest, err)
		}
		return nil, internal("read event", err)
	}
	return rec.DelegatorSeal, nil
}
