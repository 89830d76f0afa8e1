// Package multisig coordinates events of group identifiers. A group's key
// list carries one key per participant, in participant order, so signature
// indices and thresholds are evaluated at participant level.
package multisig

import (
	"fmt"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
	"xdao.co/kel/prerotation"
	"xdao.co/kel/threshold"
)

// Member is one participant of a group: its own identifier, the key it
// signs group events with, and the key it commits to for the next group
// rotation.
type Member struct {
	AID     string
	Key     string
	NextKey string
}

// Group is an ordered participant list. Position i signs with index i.
type Group struct {
	Prefix       string
	Participants []string
}

// Index returns the signing index of participant.
func (g Group) Index(participant string) (int, bool) {
	for i, p := range g.Participants {
		if p == participant {
			return i, true
		}
	}
	return -1, false
}

func (g Group) validate() error {
	if len(g.Participants) == 0 {
		return event.NewError(event.KindStructural, event.RuleKeySet, "group has no participants")
	}
	seen := make(map[string]bool, len(g.Participants))
	for _, p := range g.Participants {
		if p == "" || seen[p] {
			return event.NewError(event.KindStructural, event.RuleKeySet,
				fmt.Sprintf("invalid or repeated participant %q", p))
		}
		seen[p] = true
	}
	return nil
}

func split(members []Member) (aids, cur, next []string) {
	for _, m := range members {
		aids = append(aids, m.AID)
		cur = append(cur, m.Key)
		next = append(next, m.NextKey)
	}
	return aids, cur, next
}

// InceptionParams describes a new group identifier.
type InceptionParams struct {
	Members       []Member
	Threshold     threshold.Threshold
	NextThreshold threshold.Threshold
	Witnesses     []string
	Toad          int
	Config        []string
	Delegator     string
}

// Incept builds the group inception and returns it with the group layout.
func Incept(p InceptionParams, opts event.Options) (*event.Message, Group, error) {
	aids, cur, next := split(p.Members)
	alg := opts.Alg
	if alg == 0 {
		alg = cidutil.Default
	}
	commit, err := prerotation.Commit(next, p.NextThreshold, alg)
	if err != nil {
		return nil, Group{}, err
	}
	m, err := event.Incept(event.InceptionParams{
		Keys:          cur,
		Threshold:     p.Threshold,
		Next:          commit,
		NextThreshold: p.NextThreshold,
		Witnesses:     p.Witnesses,
		Toad:          p.Toad,
		Config:        p.Config,
		Delegator:     p.Delegator,
	}, opts)
	if err != nil {
		return nil, Group{}, err
	}
	g := Group{Prefix: m.Event.Prefix, Participants: aids}
	return m, g, g.validate()
}

// RotationParams describes a group rotation. Members reveal the next keys
// the previous group event committed to and commit to fresh ones.
type RotationParams struct {
	Prefix        string
	Sn            uint64
	Prior         string
	Members       []Member
	Threshold     threshold.Threshold
	NextThreshold threshold.Threshold
	Cuts          []string
	Adds          []string
	Toad          int
	Anchors       []event.Seal
}

// Rotate builds a group rotation. Member.Key is the revealed key and
// Member.NextKey the new commitment.
func Rotate(p RotationParams, opts event.Options) (*event.Message, Group, error) {
	aids, cur, next := split(p.Members)
	alg := opts.Alg
	if alg == 0 {
		alg = cidutil.Default
	}
	commit, err := prerotation.Commit(next, p.NextThreshold, alg)
	if err != nil {
		return nil, Group{}, err
	}
	m, err := event.Rotate(event.RotationParams{
		Prefix:        p.Prefix,
		Sn:            p.Sn,
		Prior:         p.Prior,
		Keys:          cur,
		Threshold:     p.Threshold,
		Next:          commit,
		NextThreshold: p.NextThreshold,
		Cuts:          p.Cuts,
		Adds:          p.Adds,
		Toad:          p.Toad,
		Anchors:       p.Anchors,
	}, opts)
	if err != nil {
		return nil, Group{}, err
	}
	g := Group{Prefix: p.Prefix, Participants: aids}
	return m, g, g.validate()
}
