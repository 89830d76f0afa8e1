// Package registry tracks credential registries: a registry is incepted by
// an issuer and records the issuance and revocation of credentials. Every
// registry event is anchored by a seal in the issuer's key event log, and
// takes effect only once that anchor exists.
//
// Registries here are backerless: the issuer's log is the only authority.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
)

// Ilk is a registry event type.
type Ilk string

const (
	Inception  Ilk = "vcp"
	Issuance   Ilk = "iss"
	Revocation Ilk = "rev"
)

// TraitNoBackers marks a backerless registry.
const TraitNoBackers = "NB"

// Event is the body of a registry event. Field order is the serialization
// order.
type Event struct {
	Version string `json:"v"`
	Type    Ilk    `json:"t"`
	Digest  string `json:"d"`
	// Prefix is the registry identifier for vcp and the credential
	// identifier for iss and rev.
	Prefix   string   `json:"i"`
	Issuer   string   `json:"ii,omitempty"`
	Sn       string   `json:"s"`
	Registry string   `json:"ri,omitempty"`
	Prior    string   `json:"p,omitempty"`
	Config   []string `json:"c,omitempty"`
	Toad     string   `json:"bt,omitempty"`
	Backers  []string `json:"b,omitempty"`
	Date     string   `json:"dt,omitempty"`
}

// Message is a decoded registry event with its exact bytes.
type Message struct {
	Event *Event
	Raw   []byte
	SeqNo uint64
}

// Seal is the anchor the issuer must place in its log for m.
func (m *Message) Seal() event.Seal {
	return event.Seal{Prefix: m.Event.Prefix, Sn: m.Event.Sn, Digest: m.Event.Digest}
}

var versionPattern = regexp.MustCompile(`^KERI10JSON([0-9a-f]{6})_$`)

func shape(msg string) error {
	return event.NewError(event.KindStructural, event.RuleRegistryShape, msg)
}

func serialize(e *Event) ([]byte, error) {
	e.Version = fmt.Sprintf("KERI10JSON%06x_", 0)
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	e.Version = fmt.Sprintf("KERI10JSON%06x_", len(raw))
	return json.Marshal(e)
}

func saidify(e *Event, alg cidutil.Alg) (*Message, error) {
	ph, err := cidutil.Placeholder(alg)
	if err != nil {
		return nil, err
	}
	cp := *e
	cp.Digest = ph
	if cp.Type == Inception {
		cp.Prefix = ph
	}
	raw, err := serialize(&cp)
	if err != nil {
		return nil, err
	}
	d, err := cidutil.Sum(alg, raw)
	if err != nil {
		return nil, err
	}
	e.Digest = d
	if e.Type == Inception {
		e.Prefix = d
	}
	if raw, err = serialize(e); err != nil {
		return nil, err
	}
	sn, err := event.ParseSn(e.Sn)
	if err != nil {
		return nil, err
	}
	return &Message{Event: e, Raw: raw, SeqNo: sn}, nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Incept builds a backerless registry inception for issuer.
func Incept(issuer string, alg cidutil.Alg) (*Message, error) {
	if alg == 0 {
		alg = cidutil.Default
	}
	return saidify(&Event{
		Type:   Inception,
		Issuer: issuer,
		Sn:     "0",
		Config: []string{TraitNoBackers},
		Toad:   "0",
		Date:   now(),
	}, alg)
}

// Issue builds the issuance of credential vcid in registry regk.
func Issue(vcid, regk string, alg cidutil.Alg) (*Message, error) {
	if alg == 0 {
		alg = cidutil.Default
	}
	return saidify(&Event{Type: Issuance, Prefix: vcid, Sn: "0", Registry: regk, Date: now()}, alg)
}

// Revoke builds the revocation of credential vcid whose issuance has
// digest prior.
func Revoke(vcid, regk, prior string, alg cidutil.Alg) (*Message, error) {
	if alg == 0 {
		alg = cidutil.Default
	}
	return saidify(&Event{Type: Revocation, Prefix: vcid, Sn: "1", Registry: regk, Prior: prior, Date: now()}, alg)
}

// Decode parses and checks a registry event: canonical bytes, version
// size, digest and the fields its type requires.
func Decode(raw []byte) (*Message, error) {
	var e Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return nil, event.WrapError(event.KindStructural, event.RuleDecode, "decode registry event", err)
	}
	v := versionPattern.FindStringSubmatch(e.Version)
	if v == nil {
		return nil, event.NewError(event.KindStructural, event.RuleCanonical, fmt.Sprintf("invalid version string %q", e.Version))
	}
	if size, _ := strconv.ParseUint(v[1], 16, 32); int(size) != len(raw) {
		return nil, event.NewError(event.KindStructural, event.RuleCanonical, "version string size does not match")
	}
	again, err := json.Marshal(&e)
	if err != nil || !bytes.Equal(again, raw) {
		return nil, event.NewError(event.KindStructural, event.RuleCanonical, "registry event bytes are not in canonical form")
	}
	sn, err := event.ParseSn(e.Sn)
	if err != nil {
		return nil, event.WrapError(event.KindStructural, event.RuleSequenceNumber, "sequence number", err)
	}
	m := &Message{Event: &e, Raw: raw, SeqNo: sn}
	if err := checkShape(m); err != nil {
		return nil, err
	}
	if err := verifySAID(m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkShape(m *Message) error {
	e := m.Event
	switch e.Type {
	case Inception:
		if e.Issuer == "" || m.SeqNo != 0 || e.Registry != "" || e.Prior != "" {
			return shape("registry inception needs an issuer at sn 0 and nothing else")
		}
		nb := false
		for _, c := range e.Config {
			nb = nb || c == TraitNoBackers
		}
		if !nb || len(e.Backers) != 0 || e.Toad != "0" {
			return shape("only backerless registries are supported")
		}
	case Issuance:
		if e.Prefix == "" || e.Registry == "" || m.SeqNo != 0 || e.Prior != "" || e.Issuer != "" {
			return shape("issuance names a credential and registry at sn 0")
		}
	case Revocation:
		if e.Prefix == "" || e.Registry == "" || m.SeqNo != 1 || e.Prior == "" || e.Issuer != "" {
			return shape("revocation names a credential, registry and prior issuance at sn 1")
		}
	default:
		return shape(fmt.Sprintf("unknown registry event type %q", e.Type))
	}
	if e.Type != Inception && (len(e.Config) != 0 || len(e.Backers) != 0 || e.Toad != "") {
		return shape("configuration belongs to the registry inception")
	}
	return nil
}

func verifySAID(m *Message) error {
	e := m.Event
	alg, err := cidutil.AlgOf(e.Digest)
	if err != nil {
		return event.WrapError(event.KindStructural, event.RuleDigest, "registry event digest", err)
	}
	cp := *e
	if cp.Type == Inception && cp.Prefix != cp.Digest {
		return event.NewError(event.KindStructural, event.RuleInvalidSelfAddress, "registry identifier is not its inception digest")
	}
	check, err := saidify(&cp, alg)
	if err != nil {
		return event.WrapError(event.KindStructural, event.RuleDigest, "registry event digest", err)
	}
	if check.Event.Digest != e.Digest {
		return event.NewError(event.KindStructural, event.RuleDigest, "registry event digest does not match its body")
	}
	return nil
}
