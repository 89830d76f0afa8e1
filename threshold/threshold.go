// Package threshold implements signing thresholds: either a plain count of
// signers (M-of-N) or weighted fractional clauses that must each sum to at
// least one.
package threshold

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Threshold is immutable once built. The zero value is a count of zero.
type Threshold struct {
	n       int
	clauses [][]*big.Rat
}

var one = big.NewRat(1, 1)

// Simple returns an M-of-N count threshold.
func Simple(n int) Threshold {
	return Threshold{n: n}
}

// Weighted builds a fractional threshold. Each clause lists the weights of
// consecutive keys; weights are "a/b" fractions or "0"/"1".
func Weighted(clauses ...[]string) (Threshold, error) {
	if len(clauses) == 0 {
		return Threshold{}, errors.New("threshold: no clauses")
	}
	out := make([][]*big.Rat, 0, len(clauses))
	for _, c := range clauses {
		if len(c) == 0 {
			return Threshold{}, errors.New("threshold: empty clause")
		}
		ws := make([]*big.Rat, 0, len(c))
		for _, w := range c {
			r, ok := new(big.Rat).SetString(strings.TrimSpace(w))
			if !ok || r.Sign() < 0 || r.Cmp(one) > 0 {
				return Threshold{}, fmt.Errorf("threshold: invalid weight %q", w)
			}
			ws = append(ws, r)
		}
		out = append(out, ws)
	}
	return Threshold{clauses: out}, nil
}

// Parse reads the textual form produced by String: a hex count, or weighted
// clauses separated by ';' with weights separated by ','.
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "/,;") {
		var clauses [][]string
		for _, c := range strings.Split(s, ";") {
			clauses = append(clauses, strings.Split(c, ","))
		}
		return Weighted(clauses...)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Threshold{}, fmt.Errorf("threshold: invalid count %q", s)
	}
	return Simple(int(n)), nil
}

// IsWeighted reports whether t uses fractional clauses.
func (t Threshold) IsWeighted() bool { return t.clauses != nil }

// Count returns the signer count of a simple threshold.
func (t Threshold) Count() int { return t.n }

// Size is the number of keys a weighted threshold covers, or zero.
func (t Threshold) Size() int {
	n := 0
	for _, c := range t.clauses {
		n += len(c)
	}
	return n
}

// IsZero reports whether t is the zero count.
func (t Threshold) IsZero() bool { return !t.IsWeighted() && t.n == 0 }

// String is the canonical text form. It is stable and used in commitments.
func (t Threshold) String() string {
	if !t.IsWeighted() {
		return strconv.FormatUint(uint64(t.n), 16)
	}
	parts := make([]string, len(t.clauses))
	for i, c := range t.clauses {
		ws := make([]string, len(c))
		for j, w := range c {
			ws[j] = w.RatString()
		}
		parts[i] = strings.Join(ws, ",")
	}
	return strings.Join(parts, ";")
}

// Equal compares canonical forms.
func (t Threshold) Equal(o Threshold) bool { return t.String() == o.String() }

// Validate checks t against the number of keys it governs.
func (t Threshold) Validate(nkeys int) error {
	if !t.IsWeighted() {
		if nkeys == 0 {
			if t.n != 0 {
				return fmt.Errorf("threshold: %d required of an empty key set", t.n)
			}
			return nil
		}
		if t.n < 1 || t.n > nkeys {
			return fmt.Errorf("threshold: %d out of range for %d keys", t.n, nkeys)
		}
		return nil
	}
	if size := t.Size(); size != nkeys {
		return fmt.Errorf("threshold: %d weights for %d keys", size, nkeys)
	}
	for i, c := range t.clauses {
		sum := new(big.Rat)
		for _, w := range c {
			sum.Add(sum, w)
		}
		if sum.Cmp(one) < 0 {
			return fmt.Errorf("threshold: clause %d cannot be satisfied", i)
		}
	}
	return nil
}

// Satisfied reports whether signatures from the given key indices meet t.
// Duplicate and out-of-range indices are ignored.
func (t Threshold) Satisfied(indices []int) bool {
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		seen[i] = true
	}
	if !t.IsWeighted() {
		count := 0
		for i := range seen {
			if i >= 0 {
				count++
			}
		}
		return t.n > 0 && count >= t.n
	}
	offset := 0
	for _, c := range t.clauses {
		sum := new(big.Rat)
		for j, w := range c {
			if seen[offset+j] {
				sum.Add(sum, w)
			}
		}
		if sum.Cmp(one) < 0 {
			return false
		}
		offset += len(c)
	}
	return true
}

func (t Threshold) wire() any {
	if !t.IsWeighted() {
		return t.String()
	}
	out := make([][]string, len(t.clauses))
	for i, c := range t.clauses {
		out[i] = make([]string, len(c))
		for j, w := range c {
			out[i][j] = w.RatString()
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func fromWire(v any) (Threshold, error) {
	switch x := v.(type) {
	case string:
		return Parse(x)
	case float64:
		if x < 0 || x != float64(int(x)) {
			return Threshold{}, fmt.Errorf("threshold: invalid count %v", x)
		}
		return Simple(int(x)), nil
	case uint64:
		return Simple(int(x)), nil
	case []any:
		if len(x) == 0 {
			return Threshold{}, errors.New("threshold: empty weight list")
		}
		if _, nested := x[0].([]any); !nested {
			ws, err := stringsOf(x)
			if err != nil {
				return Threshold{}, err
			}
			return Weighted(ws)
		}
		clauses := make([][]string, 0, len(x))
		for _, c := range x {
			arr, ok := c.([]any)
			if !ok {
				return Threshold{}, errors.New("threshold: mixed clause shapes")
			}
			ws, err := stringsOf(arr)
			if err != nil {
				return Threshold{}, err
			}
			clauses = append(clauses, ws)
		}
		return Weighted(clauses...)
	default:
		return Threshold{}, fmt.Errorf("threshold: unsupported encoding %T", v)
	}
}

func stringsOf(xs []any) ([]string, error) {
	out := make([]string, len(xs))
	for i, x := range xs {
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("threshold: weight %d is %T, want string", i, x)
		}
		out[i] = s
	}
	return out, nil
}

func (t Threshold) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

func (t *Threshold) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := fromWire(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Threshold) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(t.wire())
}

func (t *Threshold) UnmarshalCBOR(b []byte) error {
	var v any
	if err := cbor.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := fromWire(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
