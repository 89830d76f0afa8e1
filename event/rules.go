package event

import (
	"fmt"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/keys"
)

// Rule is an explicit, named structural rule.
//
// ID must be stable across versions.
// Apply must be deterministic and side-effect free.
type Rule struct {
	ID    string
	Apply func(*Message) error
}

func (r Rule) apply(m *Message) error {
	if r.Apply == nil {
		return NewError(KindInternal, RuleInternal, "nil rule Apply")
	}
	return r.Apply(m)
}

// ValidateRules runs rules in order, returning the first failure.
func ValidateRules(m *Message, rules []Rule) error {
	for _, r := range rules {
		if err := r.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// StructureRules are the state-independent checks every event must pass.
// Rule order is the evaluation order; keep it stable.
var StructureRules = []Rule{
	{ID: RuleShape, Apply: checkShape},
	{ID: RuleInteractionShape, Apply: checkInteractionShape},
	{ID: RuleDelegatorField, Apply: checkDelegatorField},
	{ID: RuleKeySet, Apply: checkKeySet},
	{ID: RuleThresholdShape, Apply: checkThreshold},
	{ID: RuleNextCommitment, Apply: checkNext},
	{ID: RuleWitnessConfig, Apply: checkWitnesses},
	{ID: RuleConfigTraits, Apply: checkConfig},
	{ID: RuleAnchors, Apply: checkAnchors},
}

// CheckStructure runs StructureRules against m.
func CheckStructure(m *Message) error {
	return ValidateRules(m, StructureRules)
}

func checkShape(m *Message) error {
	e := m.Event
	switch e.Type {
	case Inception:
		if m.SeqNo != 0 {
			return structural(RuleShape, "inception must have sequence number 0")
		}
		if e.Prior != "" {
			return structural(RuleShape, "inception must not reference a prior event")
		}
		if len(e.Cuts) > 0 || len(e.Adds) > 0 {
			return structural(RuleShape, "inception lists witnesses in b, not br/ba")
		}
	case Rotation, Interaction:
		if m.SeqNo == 0 {
			return structural(RuleShape, fmt.Sprintf("%s must have sequence number >= 1", e.Type))
		}
		if e.Prior == "" {
			return structural(RuleShape, fmt.Sprintf("%s must reference its prior event", e.Type))
		}
		if e.Prefix == "" {
			return structural(RuleShape, "missing identifier")
		}
		if e.Type == Rotation && len(e.Witnesses) > 0 {
			return structural(RuleShape, "rotation changes witnesses through br/ba")
		}
	default:
		return structural(RuleDecode, fmt.Sprintf("unknown event type %q", e.Type))
	}
	return nil
}

func checkInteractionShape(m *Message) error {
	e := m.Event
	if e.Type != Interaction {
		return nil
	}
	if e.Kt != nil || len(e.Keys) > 0 || e.Nt != nil || e.Next != "" || e.Toad != "" ||
		len(e.Witnesses) > 0 || len(e.Cuts) > 0 || len(e.Adds) > 0 || len(e.Config) > 0 {
		return structural(RuleInteractionShape, "interaction must not carry establishment fields")
	}
	return nil
}

func checkDelegatorField(m *Message) error {
	e := m.Event
	if e.Delegator != "" && e.Type != Inception {
		return structural(RuleDelegatorField, "delegator is declared only at inception")
	}
	if e.Delegator != "" && e.Delegator == e.Prefix {
		return structural(RuleDelegatorField, "identifier cannot delegate to itself")
	}
	return nil
}

func checkKeySet(m *Message) error {
	e := m.Event
	if !e.Type.IsEstablishment() {
		return nil
	}
	if len(e.Keys) == 0 {
		return structural(RuleKeySet, "establishment event needs at least one signing key")
	}
	seen := make(map[string]bool, len(e.Keys))
	for i, k := range e.Keys {
		if _, err := keys.ParsePublicKey(k); err != nil {
			return WrapError(KindStructural, RuleKeySet, fmt.Sprintf("signing key %d", i), err)
		}
		if seen[k] {
			return structural(RuleKeySet, fmt.Sprintf("duplicate signing key %d", i))
		}
		seen[k] = true
	}
	return nil
}

func checkThreshold(m *Message) error {
	e := m.Event
	if !e.Type.IsEstablishment() {
		return nil
	}
	if e.Kt == nil {
		return structural(RuleThresholdShape, "missing signing threshold")
	}
	if err := e.Kt.Validate(len(e.Keys)); err != nil {
		return WrapError(KindStructural, RuleThresholdShape, "signing threshold", err)
	}
	return nil
}

func checkNext(m *Message) error {
	e := m.Event
	if !e.Type.IsEstablishment() {
		return nil
	}
	if e.Next == "" {
		if e.Nt != nil && !e.Nt.IsZero() {
			return structural(RuleNextCommitment, "next threshold without next key commitment")
		}
		return nil
	}
	if _, err := cidutil.AlgOf(e.Next); err != nil {
		return WrapError(KindStructural, RuleNextCommitment, "next key commitment", err)
	}
	if e.Nt == nil || e.Nt.IsZero() {
		return structural(RuleNextCommitment, "next key commitment without next threshold")
	}
	if e.Nt.IsWeighted() {
		if err := e.Nt.Validate(e.Nt.Size()); err != nil {
			return WrapError(KindStructural, RuleNextCommitment, "next threshold", err)
		}
	}
	return nil
}

func checkWitnessList(field string, ws []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ws))
	for i, w := range ws {
		if _, err := keys.ParsePublicKey(w); err != nil {
			return nil, WrapError(KindStructural, RuleWitnessConfig, fmt.Sprintf("%s[%d]", field, i), err)
		}
		if seen[w] {
			return nil, structural(RuleWitnessConfig, fmt.Sprintf("duplicate witness in %s", field))
		}
		seen[w] = true
	}
	return seen, nil
}

func checkWitnesses(m *Message) error {
	e := m.Event
	if !e.Type.IsEstablishment() {
		return nil
	}
	if e.Toad == "" {
		return structural(RuleWitnessConfig, "missing witness threshold")
	}
	toad, err := e.ToadValue()
	if err != nil {
		return WrapError(KindStructural, RuleWitnessConfig, "witness threshold", err)
	}
	if e.Type == Inception {
		if _, err := checkWitnessList("b", e.Witnesses); err != nil {
			return err
		}
		n := len(e.Witnesses)
		if (n == 0 && toad != 0) || (n > 0 && (toad < 1 || toad > n)) {
			return structural(RuleWitnessConfig, fmt.Sprintf("witness threshold %d invalid for %d witnesses", toad, n))
		}
		return nil
	}
	cuts, err := checkWitnessList("br", e.Cuts)
	if err != nil {
		return err
	}
	if _, err := checkWitnessList("ba", e.Adds); err != nil {
		return err
	}
	for _, a := range e.Adds {
		if cuts[a] {
			return structural(RuleWitnessConfig, "witness both cut and added")
		}
	}
	return nil
}

func checkConfig(m *Message) error {
	e := m.Event
	if len(e.Config) > 0 && e.Type != Inception {
		return structural(RuleConfigTraits, "configuration traits are set at inception")
	}
	seen := map[string]bool{}
	for _, c := range e.Config {
		if c != TraitEstablishmentOnly && c != TraitDoNotDelegate {
			return structural(RuleConfigTraits, fmt.Sprintf("unknown configuration trait %q", c))
		}
		if seen[c] {
			return structural(RuleConfigTraits, fmt.Sprintf("duplicate configuration trait %q", c))
		}
		seen[c] = true
	}
	return nil
}

func checkAnchors(m *Message) error {
	for i, s := range m.Event.Anchors {
		if s.Prefix == "" || s.Digest == "" {
			return structural(RuleAnchors, fmt.Sprintf("anchor %d is incomplete", i))
		}
		if _, err := ParseSn(s.Sn); err != nil {
			return WrapError(KindStructural, RuleAnchors, fmt.Sprintf("anchor %d", i), err)
		}
	}
	return nil
}
