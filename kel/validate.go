package kel

import (
	"fmt"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/threshold"
)

// Verdict is the outcome of a successful validation.
type Verdict struct {
	// State is the key state after the event.
	State KeyState
	// Verified lists the signer indices whose signatures checked out, in the
	// order they were supplied.
	Verified []int
}

// Validate checks m and its signatures against the current state. It has no
// side effects.
func Validate(cur KeyState, m *event.Message, sigs []event.Signature) (Verdict, error) {
	if err := event.CheckStructure(m); err != nil {
		return Verdict{}, err
	}
	if err := event.VerifySAID(m); err != nil {
		return Verdict{}, err
	}
	if err := checkSequence(cur, m); err != nil {
		return Verdict{}, err
	}

	e := m.Event
	signers, th := cur.Keys, cur.Threshold
	witnesses, toad := cur.Witnesses, cur.Toad
	switch e.Type {
	case event.Inception:
		signers, th = e.Keys, *e.Kt
		witnesses = append([]string(nil), e.Witnesses...)
		toad, _ = e.ToadValue()
	case event.Rotation:
		if err := prerotation.Check(cur.Next, cur.NextThreshold, e.Keys, *e.Kt); err != nil {
			return Verdict{}, err
		}
		signers, th = e.Keys, *e.Kt
		var err error
		witnesses, toad, err = rotateWitnesses(cur, e)
		if err != nil {
			return Verdict{}, err
		}
	case event.Interaction:
		if cur.HasTrait(event.TraitEstablishmentOnly) {
			return Verdict{}, event.NewError(event.KindStructural, event.RuleEstablishOnly, "identifier is establishment-only")
		}
	}

	verified, err := VerifySignatures(signers, th, m.Raw, sigs)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{State: fold(cur, m, witnesses, toad), Verified: verified}, nil
}

// Apply validates m and returns the next state.
func Apply(cur KeyState, m *event.Message, sigs []event.Signature) (KeyState, error) {
	v, err := Validate(cur, m, sigs)
	if err != nil {
		return cur, err
	}
	return v.State, nil
}

func checkSequence(cur KeyState, m *event.Message) error {
	e := m.Event
	if e.Type == event.Inception {
		if cur.Status != Unborn && cur.Status != "" {
			return event.NewError(event.KindStructural, event.RuleSequenceConflict, "identifier already incepted")
		}
		return nil
	}
	if cur.Status == Unborn || cur.Status == "" {
		return event.NewError(event.KindOutOfOrder, event.RuleOutOfOrder, "no inception for identifier")
	}
	if e.Prefix != cur.Prefix {
		return event.NewError(event.KindStructural, event.RulePrefix, "event belongs to another identifier")
	}
	if cur.Status == Abandoned {
		return event.NewError(event.KindStructural, event.RuleNotEstablished, "identifier is abandoned")
	}
	switch {
	case m.SeqNo > cur.Sn+1:
		return event.NewError(event.KindOutOfOrder, event.RuleOutOfOrder,
			fmt.Sprintf("sequence number %d ahead of expected %d", m.SeqNo, cur.Sn+1))
	case m.SeqNo <= cur.Sn:
		return event.NewError(event.KindStructural, event.RuleSequenceConflict,
			fmt.Sprintf("sequence number %d already used", m.SeqNo))
	}
	if e.Prior != cur.Digest {
		return event.NewError(event.KindStructural, event.RulePriorDigest, "prior digest does not match the latest event")
	}
	return nil
}

// rotateWitnesses applies cuts then adds to the current witness set as one
// change and checks the resulting witness threshold.
func rotateWitnesses(cur KeyState, e *event.Event) ([]string, int, error) {
	in := make(map[string]bool, len(cur.Witnesses))
	for _, w := range cur.Witnesses {
		in[w] = true
	}
	cut := make(map[string]bool, len(e.Cuts))
	for _, w := range e.Cuts {
		if !in[w] {
			return nil, 0, event.NewError(event.KindStructural, event.RuleWitnessConfig, "cut witness is not in the current set")
		}
		cut[w] = true
	}
	out := make([]string, 0, len(cur.Witnesses)+len(e.Adds))
	for _, w := range cur.Witnesses {
		if !cut[w] {
			out = append(out, w)
		}
	}
	for _, w := range e.Adds {
		if in[w] {
			return nil, 0, event.NewError(event.KindStructural, event.RuleWitnessConfig, "added witness is already in the set")
		}
		out = append(out, w)
	}
	toad, err := e.ToadValue()
	if err != nil {
		return nil, 0, event.WrapError(event.KindStructural, event.RuleWitnessConfig, "witness threshold", err)
	}
	n := len(out)
	if (n == 0 && toad != 0) || (n > 0 && (toad < 1 || toad > n)) {
		return nil, 0, event.NewError(event.KindStructural, event.RuleWitnessConfig,
			fmt.Sprintf("witness threshold %d invalid for %d witnesses", toad, n))
	}
	return out, toad, nil
}

// VerifySignatures checks indexed signatures over raw against signers and
// returns the indices that verified. Signatures with an unknown index or that
// fail to verify are not counted, and an index counts once.
func VerifySignatures(signers []string, th threshold.Threshold, raw []byte, sigs []event.Signature) ([]int, error) {
	seen := make(map[int]bool, len(sigs))
	var verified []int
	for _, s := range sigs {
		if s.Index < 0 || s.Index >= len(signers) || seen[s.Index] {
			continue
		}
		if err := keys.Verify(signers[s.Index], raw, s.Sig); err != nil {
			continue
		}
		seen[s.Index] = true
		verified = append(verified, s.Index)
	}
	if !th.Satisfied(verified) {
		return verified, event.NewError(event.KindThreshold, event.RuleThresholdNotMet,
			fmt.Sprintf("%d valid signatures do not satisfy threshold %s", len(verified), th))
	}
	return verified, nil
}

// Replay folds entries from the unborn state, re-validating each one.
func Replay(entries []Entry) (KeyState, error) {
	var s KeyState
	for i, en := range entries {
		next, err := Apply(s, en.Message, en.Signatures)
		if err != nil {
			return s, fmt.Errorf("replay event %d: %w", i, err)
		}
		s = next
	}
	return s, nil
}
