// Package event defines key events, their canonical serialization and
// self-addressing digests, and the structural rules every event must pass
// before it is checked against key state.
package event

import (
	"fmt"
	"strconv"

	"xdao.co/kel/threshold"
)

// Ilk is the event type code.
type Ilk string

const (
	Inception   Ilk = "icp"
	Rotation    Ilk = "rot"
	Interaction Ilk = "ixn"
)

// IsEstablishment reports whether events of this ilk change key state.
func (i Ilk) IsEstablishment() bool { return i == Inception || i == Rotation }

// Configuration traits.
const (
	// TraitEstablishmentOnly forbids interaction events.
	TraitEstablishmentOnly = "EO"
	// TraitDoNotDelegate forbids the identifier from acting as a delegator.
	TraitDoNotDelegate = "DND"
)

// Event is the body of a key event. Field order is the serialization order.
type Event struct {
	Version   string               `json:"v"`
	Type      Ilk                  `json:"t"`
	Digest    string               `json:"d"`
	Prefix    string               `json:"i"`
	Sn        string               `json:"s"`
	Prior     string               `json:"p,omitempty"`
	Kt        *threshold.Threshold `json:"kt,omitempty"`
	Keys      []string             `json:"k,omitempty"`
	Nt        *threshold.Threshold `json:"nt,omitempty"`
	Next      string               `json:"n,omitempty"`
	Toad      string               `json:"bt,omitempty"`
	Witnesses []string             `json:"b,omitempty"`
	Cuts      []string             `json:"br,omitempty"`
	Adds      []string             `json:"ba,omitempty"`
	Config    []string             `json:"c,omitempty"`
	Anchors   []Seal               `json:"a,omitempty"`
	Delegator string               `json:"di,omitempty"`
}

// Seal is a reference to an event by identifier, sequence number and digest.
// Anchors carry seals; a delegator approves a delegated event by anchoring
// its seal.
type Seal struct {
	Prefix string `json:"i"`
	Sn     string `json:"s"`
	Digest string `json:"d"`
}

// Signature is an indexed signature into the signing key list.
type Signature struct {
	Index int    `json:"i"`
	Sig   []byte `json:"s"`
}

// Receipt is a witness signature over an event's serialized bytes.
type Receipt struct {
	Digest    string `json:"d"`
	Witness   string `json:"w"`
	Signature []byte `json:"s"`
}

// Message is a decoded event together with the exact bytes it was decoded
// from. Signatures and digests are always computed over Raw.
type Message struct {
	Event *Event
	Raw   []byte
	Kind  Serialization
	SeqNo uint64
}

// Seal returns the seal referencing m.
func (m *Message) Seal() Seal {
	return Seal{Prefix: m.Event.Prefix, Sn: FormatSn(m.SeqNo), Digest: m.Event.Digest}
}

// HasTrait reports whether the event's configuration carries trait.
func (e *Event) HasTrait(trait string) bool {
	for _, c := range e.Config {
		if c == trait {
			return true
		}
	}
	return false
}

// ToadValue parses the witness threshold.
func (e *Event) ToadValue() (int, error) {
	if e.Toad == "" {
		return 0, nil
	}
	n, err := ParseSn(e.Toad)
	if err != nil {
		return 0, fmt.Errorf("invalid witness threshold %q", e.Toad)
	}
	return int(n), nil
}

// FormatSn renders a sequence number as lowercase hex.
func FormatSn(n uint64) string { return strconv.FormatUint(n, 16) }

// ParseSn parses a lowercase hex sequence number without leading zeros.
func ParseSn(s string) (uint64, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, fmt.Errorf("invalid sequence number %q", s)
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return 0, fmt.Errorf("invalid sequence number %q", s)
		}
	}
	return strconv.ParseUint(s, 16, 64)
}

// Ample returns the default witness threshold for n witnesses: the smallest
// agreement count that tolerates the maximum number of faulty witnesses.
func Ample(n int) int {
	if n <= 0 {
		return 0
	}
	f1 := max(1, (n-1)/3)
	f2 := max(1, (n+1)/3)
	return min(n, (n+f1+2)/2, (n+f2+2)/2)
}
