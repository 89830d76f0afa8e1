package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"xdao.co/kel/event"
	"xdao.co/kel/multisig"
	"xdao.co/kel/threshold"
)

// GroupProposal opens signature collection for an event of a group
// identifier. Participants are ordered by signing index.
type GroupProposal struct {
	Participants  []string
	Raw           []byte
	DelegatorSeal *event.Seal
}

// GroupMergeResult is the collection state after a partial signature. When
// the group threshold is met the event is proposed with the merged
// signatures and Admission holds the outcome.
type GroupMergeResult struct {
	multisig.MergeResult
	Admission *AdmissionResult
}

// OpenGroupEvent starts collecting participant signatures for a group event.
func (e *Engine) OpenGroupEvent(ctx context.Context, p GroupProposal) (multisig.MergeResult, error) {
	_, span := e.tracer.Start(ctx, "engine.OpenGroupEvent")
	defer span.End()

	m, err := event.Decode(p.Raw)
	if err != nil {
		return multisig.MergeResult{}, err
	}
	if err := event.CheckStructure(m); err != nil {
		return multisig.MergeResult{}, err
	}
	if err := event.VerifySAID(m); err != nil {
		return multisig.MergeResult{}, err
	}
	span.SetAttributes(attribute.String("kel.prefix", m.Event.Prefix))

	var signers []string
	var th threshold.Threshold
	if m.Event.Type.IsEstablishment() {
		signers, th = m.Event.Keys, *m.Event.Kt
	} else {
		st, ok := e.state(m.Event.Prefix)
		if !ok {
			return multisig.MergeResult{}, event.NewError(event.KindNotFound, event.RuleUnknown,
				fmt.Sprintf("unknown group %s", m.Event.Prefix))
		}
		signers, th = st.Keys, st.Threshold
	}
	g := multisig.Group{Prefix: m.Event.Prefix, Participants: p.Participants}
	res, err := e.groups.Open(g, m, signers, th)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	e.groupSeals(m.Event.Prefix, p.DelegatorSeal)
	return res, nil
}

// MergeGroupPartial adds one participant's signature to the pending event of
// group. Once complete the event is proposed and the collection closed.
func (e *Engine) MergeGroupPartial(ctx context.Context, group, participant string, sig []byte) (GroupMergeResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.MergeGroupPartial")
	defer span.End()
	span.SetAttributes(attribute.String("kel.prefix", group), attribute.String("kel.participant", participant))

	res, err := e.groups.Merge(group, multisig.Partial{Participant: participant, Signature: sig})
	out := GroupMergeResult{MergeResult: res}
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	if !res.Complete {
		return out, nil
	}
	m, _, ok := e.groups.Pending(group)
	if !ok || m.Event.Digest != res.Digest {
		return out, nil
	}
	adm, err := e.Propose(ctx, Proposal{
		AID:           group,
		Raw:           m.Raw,
		Signatures:    res.Signatures,
		DelegatorSeal: e.groupSeal(group),
	})
	if err != nil {
		return out, err
	}
	e.groups.Close(group, res.Digest)
	out.Admission = &adm
	return out, nil
}

// PendingGroupEvent returns the raw event and participants awaiting
// signatures for group.
func (e *Engine) PendingGroupEvent(group string) ([]byte, []string, bool) {
	m, g, ok := e.groups.Pending(group)
	if !ok {
		return nil, nil, false
	}
	return m.Raw, append([]string(nil), g.Participants...), true
}

func (e *Engine) groupSeals(group string, seal *event.Seal) {
	e.sealsMu.Lock()
	defer e.sealsMu.Unlock()
	if seal == nil {
		delete(e.seals, group)
		return
	}
	s := *seal
	e.seals[group] = &s
}

func (e *Engine) groupSeal(group string) *event.Seal {
	e.sealsMu.Lock()
	defer e.sealsMu.Unlock()
	return e.seals[group]
}
