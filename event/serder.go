package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/fxamacker/cbor/v2"

	"xdao.co/kel/cidutil"
)

// Serialization is the wire encoding of an event body.
type Serialization string

const (
	JSON Serialization = "JSON"
	CBOR Serialization = "CBOR"
)

const versionPrefix = "KERI10"

var versionPattern = regexp.MustCompile(`^KERI10(JSON|CBOR)([0-9a-f]{6})_$`)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// ParseSerialization maps a configuration name onto a Serialization.
func ParseSerialization(s string) (Serialization, error) {
	switch s {
	case "", "JSON", "json":
		return JSON, nil
	case "CBOR", "cbor":
		return CBOR, nil
	default:
		return "", fmt.Errorf("unsupported serialization %q", s)
	}
}

func versionString(kind Serialization, size int) string {
	return fmt.Sprintf("%s%s%06x_", versionPrefix, kind, size)
}

func marshal(e *Event, kind Serialization) ([]byte, error) {
	switch kind {
	case JSON:
		return json.Marshal(e)
	case CBOR:
		return cborEnc.Marshal(e)
	default:
		return nil, fmt.Errorf("unsupported serialization %q", kind)
	}
}

// Serialize encodes e with a version string carrying the exact encoded size.
// e.Version is updated in place.
func Serialize(e *Event, kind Serialization) ([]byte, error) {
	e.Version = versionString(kind, 0)
	raw, err := marshal(e, kind)
	if err != nil {
		return nil, WrapError(KindStructural, RuleDecode, "serialize event", err)
	}
	size := len(raw)
	e.Version = versionString(kind, size)
	raw, err = marshal(e, kind)
	if err != nil {
		return nil, WrapError(KindStructural, RuleDecode, "serialize event", err)
	}
	if len(raw) != size {
		return nil, NewError(KindInternal, RuleInternal, "version string changed encoded size")
	}
	return raw, nil
}

// Sniff detects the serialization of raw from its first byte.
func Sniff(raw []byte) (Serialization, error) {
	if len(raw) == 0 {
		return "", structural(RuleDecode, "empty event")
	}
	switch b := raw[0]; {
	case b == '{':
		return JSON, nil
	case b >= 0xa0 && b <= 0xbf:
		return CBOR, nil
	default:
		return "", structural(RuleDecode, fmt.Sprintf("unrecognized serialization (first byte 0x%02x)", b))
	}
}

// Decode parses raw into a Message. raw must be the canonical serialization
// of the event it carries and its version string must state its exact size.
func Decode(raw []byte) (*Message, error) {
	kind, err := Sniff(raw)
	if err != nil {
		return nil, err
	}
	var e Event
	switch kind {
	case JSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&e); err != nil {
			return nil, WrapError(KindStructural, RuleDecode, "decode JSON event", err)
		}
	case CBOR:
		if err := cborDec.Unmarshal(raw, &e); err != nil {
			return nil, WrapError(KindStructural, RuleDecode, "decode CBOR event", err)
		}
	}

	m := versionPattern.FindStringSubmatch(e.Version)
	if m == nil {
		return nil, structural(RuleCanonical, fmt.Sprintf("invalid version string %q", e.Version))
	}
	if Serialization(m[1]) != kind {
		return nil, structural(RuleCanonical, fmt.Sprintf("version string says %s, body is %s", m[1], kind))
	}
	size, _ := strconv.ParseUint(m[2], 16, 32)
	if int(size) != len(raw) {
		return nil, structural(RuleCanonical, fmt.Sprintf("version string size %d, body is %d bytes", size, len(raw)))
	}

	sn, err := ParseSn(e.Sn)
	if err != nil {
		return nil, WrapError(KindStructural, RuleSequenceNumber, "sequence number", err)
	}

	again, err := marshal(&e, kind)
	if err != nil {
		return nil, WrapError(KindStructural, RuleCanonical, "re-encode event", err)
	}
	if !bytes.Equal(again, raw) {
		return nil, structural(RuleCanonical, "event bytes are not in canonical form")
	}
	return &Message{Event: &e, Raw: raw, Kind: kind, SeqNo: sn}, nil
}

func placeholderCopy(e *Event, alg cidutil.Alg) (*Event, error) {
	ph, err := cidutil.Placeholder(alg)
	if err != nil {
		return nil, err
	}
	cp := *e
	cp.Digest = ph
	if cp.Type == Inception {
		cp.Prefix = ph
	}
	return &cp, nil
}

// Saidify computes the self-addressing digest of e, sets e.Digest (and
// e.Prefix for inception events) and returns the final message.
func Saidify(e *Event, kind Serialization, alg cidutil.Alg) (*Message, error) {
	sn, err := ParseSn(e.Sn)
	if err != nil {
		return nil, WrapError(KindStructural, RuleSequenceNumber, "sequence number", err)
	}
	cp, err := placeholderCopy(e, alg)
	if err != nil {
		return nil, WrapError(KindStructural, RuleDigest, "digest algorithm", err)
	}
	raw, err := Serialize(cp, kind)
	if err != nil {
		return nil, err
	}
	d, err := cidutil.Sum(alg, raw)
	if err != nil {
		return nil, WrapError(KindInternal, RuleInternal, "digest event", err)
	}
	e.Digest = d
	if e.Type == Inception {
		e.Prefix = d
	}
	raw, err = Serialize(e, kind)
	if err != nil {
		return nil, err
	}
	return &Message{Event: e, Raw: raw, Kind: kind, SeqNo: sn}, nil
}

// VerifySAID recomputes the digest of m and, for inception, checks that the
// identifier is that digest.
func VerifySAID(m *Message) error {
	alg, err := cidutil.AlgOf(m.Event.Digest)
	if err != nil {
		return WrapError(KindStructural, RuleDigest, "event digest", err)
	}
	cp, err := placeholderCopy(m.Event, alg)
	if err != nil {
		return WrapError(KindStructural, RuleDigest, "event digest", err)
	}
	raw, err := Serialize(cp, m.Kind)
	if err != nil {
		return err
	}
	d, err := cidutil.Sum(alg, raw)
	if err != nil {
		return WrapError(KindInternal, RuleInternal, "digest event", err)
	}
	if d != m.Event.Digest {
		return structural(RuleDigest, "event digest does not match its content")
	}
	if m.Event.Type == Inception && m.Event.Prefix != m.Event.Digest {
		return structural(RuleInvalidSelfAddress, "identifier is not the inception digest")
	}
	return nil
}
