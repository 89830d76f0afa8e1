// Package kel is the key state machine: it validates key events against the
// current state of an identifier and folds admitted events into the next
// state. The state is always recomputable from the log alone.
package kel

import (
	"xdao.co/kel/event"
	"xdao.co/kel/threshold"
)

// Status is the lifecycle position of an identifier.
type Status string

const (
	Unborn      Status = "unborn"
	Established Status = "established"
	// Abandoned is terminal: the identifier rotated to an empty next-key
	// commitment and accepts no further events.
	Abandoned Status = "abandoned"
)

// Establishment locates the latest establishment event.
type Establishment struct {
	Sn     uint64 `json:"s"`
	Digest string `json:"d"`
}

// KeyState is the fold of a KEL.
type KeyState struct {
	Prefix        string              `json:"i"`
	Sn            uint64              `json:"s"`
	Digest        string              `json:"d"`
	Ilk           event.Ilk           `json:"et"`
	LastEst       Establishment       `json:"ee"`
	Keys          []string            `json:"k"`
	Threshold     threshold.Threshold `json:"kt"`
	Next          string              `json:"n"`
	NextThreshold threshold.Threshold `json:"nt"`
	Witnesses     []string            `json:"b"`
	Toad          int                 `json:"bt"`
	Config        []string            `json:"c"`
	Delegator     string              `json:"di,omitempty"`
	Status        Status              `json:"status"`
}

// Clone returns a copy that shares no slices with s.
func (s KeyState) Clone() KeyState {
	out := s
	out.Keys = append([]string(nil), s.Keys...)
	out.Witnesses = append([]string(nil), s.Witnesses...)
	out.Config = append([]string(nil), s.Config...)
	return out
}

// HasTrait reports whether the identifier was incepted with trait.
func (s KeyState) HasTrait(trait string) bool {
	for _, c := range s.Config {
		if c == trait {
			return true
		}
	}
	return false
}

// IsDelegated reports whether establishment events need delegator approval.
func (s KeyState) IsDelegated() bool { return s.Delegator != "" }

// Entry is one admitted event with the signatures that admitted it.
type Entry struct {
	Message    *event.Message
	Signatures []event.Signature
}

// fold produces the state after m. Callers must have validated m against s.
func fold(s KeyState, m *event.Message, witnesses []string, toad int) KeyState {
	e := m.Event
	next := s.Clone()
	next.Prefix = e.Prefix
	next.Sn = m.SeqNo
	next.Digest = e.Digest
	next.Ilk = e.Type
	if !e.Type.IsEstablishment() {
		return next
	}
	next.LastEst = Establishment{Sn: m.SeqNo, Digest: e.Digest}
	next.Keys = append([]string(nil), e.Keys...)
	next.Threshold = *e.Kt
	next.Next = e.Next
	next.NextThreshold = threshold.Threshold{}
	if e.Nt != nil {
		next.NextThreshold = *e.Nt
	}
	next.Witnesses = witnesses
	next.Toad = toad
	if e.Type == event.Inception {
		next.Config = append([]string(nil), e.Config...)
		next.Delegator = e.Delegator
	}
	next.Status = Established
	if e.Next == "" {
		next.Status = Abandoned
	}
	return next
}
