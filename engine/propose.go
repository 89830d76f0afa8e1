package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"xdao.co/kel/delegation"
	"xdao.co/kel/event"
	"xdao.co/kel/kel"
	"xdao.co/kel/storage"
	"xdao.co/kel/witness"
)

// Status is the outcome of an admission that did not fail.
type Status string

const (
	// Accepted: committed and needs nothing further.
	Accepted Status = "Accepted"
	// PendingWitnessConfirmation: committed, but fewer than toad witnesses
	// have receipted it.
	PendingWitnessConfirmation Status = "PendingWitnessConfirmation"
	// PendingDelegatorApproval: valid, held until the delegator anchors it.
	PendingDelegatorApproval Status = "PendingDelegatorApproval"
	// Escrowed: ahead of the log; retried once the gap is filled.
	Escrowed Status = "Escrowed"
	// Duplicate: this exact event is already in the log.
	Duplicate Status = "Duplicate"
)

// Proposal is a signed event submitted for admission.
type Proposal struct {
	// AID, when set, must name the event's identifier.
	AID string
	// Kind, when set, must match the serialization of Raw.
	Kind          event.Serialization
	Raw           []byte
	Signatures    []event.Signature
	DelegatorSeal *event.Seal
}

// AdmissionResult describes an admitted, held or escrowed event.
type AdmissionResult struct {
	Status Status
	Prefix string
	Sn     uint64
	Digest string
	// State is the identifier's state after the call. For a held delegated
	// event it is the provisional state the event will produce.
	State kel.KeyState
	Tally witness.Tally
	// Approved lists the delegated events this admission approved.
	Approved []event.Seal
}

// Propose validates and admits one event. The log entry is durable before a
// committed status is returned.
func (e *Engine) Propose(ctx context.Context, p Proposal) (AdmissionResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Propose")
	defer span.End()

	res, err := e.propose(ctx, p)
	span.SetAttributes(
		attribute.String("kel.prefix", res.Prefix),
		attribute.Int64("kel.sn", int64(res.Sn)),
		attribute.String("kel.status", string(res.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(event.KindOf(err)))
	}
	return res, err
}

func (e *Engine) propose(ctx context.Context, p Proposal) (AdmissionResult, error) {
	m, err := event.Decode(p.Raw)
	if err != nil {
		return AdmissionResult{}, err
	}
	if p.Kind != "" && p.Kind != m.Kind {
		return AdmissionResult{}, event.NewError(event.KindStructural, event.RuleDecode,
			fmt.Sprintf("event is %s, not %s", m.Kind, p.Kind))
	}
	if err := event.CheckStructure(m); err != nil {
		return AdmissionResult{}, err
	}
	if err := event.VerifySAID(m); err != nil {
		return AdmissionResult{}, err
	}
	if p.AID != "" && p.AID != m.Event.Prefix {
		return AdmissionResult{}, event.NewError(event.KindStructural, event.RulePrefix,
			fmt.Sprintf("event belongs to %s, not %s", m.Event.Prefix, p.AID))
	}

	res, followups, err := e.admit(ctx, m, p.Signatures, p.DelegatorSeal)
	if err != nil {
		return res, err
	}
	finalized := e.afterCommit(ctx, followups)
	for _, a := range followups.approvals {
		if finalized[a.Pending.Message.Event.Digest] {
			res.Approved = append(res.Approved, a.Pending.Anchor())
		}
	}
	if res.Status != Escrowed && res.Status != PendingDelegatorApproval {
		if st, ok := e.state(res.Prefix); ok {
			res.State = st
		}
	}
	return res, nil
}

// followups is work that must run after the identifier lock is released.
type followups struct {
	committed []committed
	approvals []delegation.Resolution
}

type committed struct {
	msg   *event.Message
	state kel.KeyState
}

func (f *followups) merge(o followups) {
	f.committed = append(f.committed, o.committed...)
	f.approvals = append(f.approvals, o.approvals...)
}

func (e *Engine) admit(ctx context.Context, m *event.Message, sigs []event.Signature, seal *event.Seal) (AdmissionResult, followups, error) {
	prefix := m.Event.Prefix
	res := AdmissionResult{Prefix: prefix, Sn: m.SeqNo, Digest: m.Event.Digest}

	unlock := e.lock(prefix)
	defer unlock()

	cur, known := e.state(prefix)
	switch {
	case known && m.SeqNo <= cur.Sn:
		return e.checkDuplicate(ctx, res, cur, m, sigs)
	case known && cur.Status == kel.Abandoned:
		_, err := kel.Validate(cur, m, sigs)
		return res, followups{}, err
	case (!known && m.SeqNo > 0) || (known && m.SeqNo > cur.Sn+1):
		return e.hold(res, m, sigs, seal)
	}

	if p, ok := e.delegations.Pending(prefix); ok && p.Message.SeqNo == m.SeqNo && p.Message.Event.Digest != m.Event.Digest {
		if _, err := kel.Validate(cur, m, sigs); err != nil {
			return res, followups{}, err
		}
		return res, followups{}, e.recordDuplicity(ctx, m, sigs, "a different event awaits delegator approval at this position")
	}

	if e.needsApproval(cur, m) {
		return e.holdDelegated(ctx, res, cur, m, sigs, seal)
	}

	st, err := kel.Apply(cur, m, sigs)
	if err != nil {
		if event.IsKind(err, event.KindPreRotation) {
			logger.Errorf("rejected rotation of %s sn %d: %v", prefix, m.SeqNo, err)
		}
		return res, followups{}, err
	}
	f, tally, err := e.commit(ctx, m, sigs, st, nil)
	if err != nil {
		return res, followups{}, err
	}
	res.Status = statusOf(tally)
	res.Tally = tally
	return res, f, nil
}

func statusOf(t witness.Tally) Status {
	if t.Confirmed {
		return Accepted
	}
	return PendingWitnessConfirmation
}

// commit persists an admitted event and updates every in-memory view. The
// caller holds the identifier lock.
func (e *Engine) commit(ctx context.Context, m *event.Message, sigs []event.Signature, st kel.KeyState, seal *event.Seal) (followups, witness.Tally, error) {
	rec := storage.Record{
		Prefix:        m.Event.Prefix,
		Sn:            m.SeqNo,
		Digest:        m.Event.Digest,
		Raw:           m.Raw,
		Signatures:    sigs,
		DelegatorSeal: seal,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return followups{}, witness.Tally{}, event.WrapError(event.KindStructural, event.RuleSequenceConflict,
				"log position already taken", err)
		}
		return followups{}, witness.Tally{}, internal("append", err)
	}
	e.setState(st)
	logger.Infof("admitted %s %s sn %d", m.Event.Type, m.Event.Prefix, m.SeqNo)

	tally, err := e.receipts.Track(ctx, m.Event.Digest, m.Event.Prefix, m.SeqNo, m.Raw, st.Witnesses, st.Toad)
	if err != nil {
		return followups{}, tally, internal("track receipts", err)
	}
	if tally, err = e.selfReceipt(ctx, m, st, tally); err != nil {
		return followups{}, tally, err
	}

	f := followups{committed: []committed{{msg: m, state: st}}}
	f.approvals = e.delegations.Match(m)
	return f, tally, nil
}

// afterCommit runs hooks, finalizes approved delegated events and retries
// escrowed events, in that order. It must be called without identifier
// locks held. It returns the digests of the delegated events it committed.
func (e *Engine) afterCommit(ctx context.Context, f followups) map[string]bool {
	finalized := map[string]bool{}
	for len(f.committed) > 0 || len(f.approvals) > 0 {
		var next followups
		for _, c := range f.committed {
			for _, h := range e.hooks {
				h(ctx, c.msg, c.state)
			}
		}
		for _, a := range f.approvals {
			_, more, err := e.finalize(ctx, a)
			if err != nil {
				logger.Errorf("finalizing %s sn %d: %v", a.Pending.Message.Event.Prefix, a.Pending.Message.SeqNo, err)
				continue
			}
			finalized[a.Pending.Message.Event.Digest] = true
			next.merge(more)
		}
		seen := map[string]bool{}
		for _, c := range f.committed {
			prefix := c.msg.Event.Prefix
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			next.merge(e.drain(ctx, prefix))
		}
		f = next
	}
	return finalized
}

func (e *Engine) checkDuplicate(ctx context.Context, res AdmissionResult, cur kel.KeyState, m *event.Message, sigs []event.Signature) (AdmissionResult, followups, error) {
	prior, rec, err := e.message(ctx, m.Event.Prefix, m.SeqNo)
	if err != nil {
		return res, followups{}, internal("read log", err)
	}
	if prior.Event.Digest == m.Event.Digest {
		res.Status = Duplicate
		res.Tally, _ = e.receipts.Tally(rec.Digest)
		return res, followups{}, nil
	}
	before, err := e.stateAt(ctx, m.Event.Prefix, m.SeqNo)
	if err != nil {
		return res, followups{}, internal("replay log", err)
	}
	if _, err := kel.Validate(before, m, sigs); err != nil {
		return res, followups{}, err
	}
	return res, followups{}, e.recordDuplicity(ctx, m, sigs,
		fmt.Sprintf("log already holds %s at sn %d", prior.Event.Digest, m.SeqNo))
}

// recordDuplicity keeps a valid conflicting event for audit and reports it.
func (e *Engine) recordDuplicity(ctx context.Context, m *event.Message, sigs []event.Signature, why string) error {
	rec := storage.Record{
		Prefix:     m.Event.Prefix,
		Sn:         m.SeqNo,
		Digest:     m.Event.Digest,
		Raw:        m.Raw,
		Signatures: sigs,
	}
	if err := e.store.PutDuplicitous(ctx, rec); err != nil {
		return internal("record duplicitous event", err)
	}
	logger.Errorf("duplicity on %s sn %d: %s carries valid signatures but %s", m.Event.Prefix, m.SeqNo, m.Event.Digest, why)
	conflict := event.NewError(event.KindStructural, event.RuleSequenceConflict,
		fmt.Sprintf("sequence number %d already used", m.SeqNo))
	return event.WrapError(event.KindDuplicity, event.RuleDuplicity,
		fmt.Sprintf("conflicting valid event %s at sn %d", m.Event.Digest, m.SeqNo), conflict)
}
