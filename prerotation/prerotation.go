// Package prerotation computes and checks next-key commitments. An
// establishment event commits to the digest of the next key set and its
// threshold; the following rotation must reveal exactly that set.
package prerotation

import (
	"bytes"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
	"xdao.co/kel/threshold"
)

func preimage(next []string, nt threshold.Threshold) []byte {
	var b bytes.Buffer
	b.WriteString(nt.String())
	for _, k := range next {
		b.WriteByte(0)
		b.WriteString(k)
	}
	return b.Bytes()
}

// Commit returns the commitment to the ordered key list next under nt.
// An empty key list yields the empty commitment, which abandons the
// identifier.
func Commit(next []string, nt threshold.Threshold, alg cidutil.Alg) (string, error) {
	if len(next) == 0 {
		return "", nil
	}
	if err := nt.Validate(len(next)); err != nil {
		return "", event.WrapError(event.KindStructural, event.RuleNextCommitment, "next threshold", err)
	}
	return cidutil.Sum(alg, preimage(next, nt))
}

// Matches reports whether (revealed, kt) opens commitment.
func Matches(commitment string, revealed []string, kt threshold.Threshold) bool {
	if commitment == "" {
		return false
	}
	ok, err := cidutil.Verify(commitment, preimage(revealed, kt))
	return err == nil && ok
}

// Check verifies that a rotation revealing keys under kt opens the prior
// commitment. A failure is a hard rejection, never escrowed.
func Check(commitment string, nt threshold.Threshold, revealed []string, kt threshold.Threshold) error {
	if commitment == "" {
		return event.NewError(event.KindPreRotation, event.RulePreRotation, "identifier has no next key commitment")
	}
	if !kt.Equal(nt) {
		return event.NewError(event.KindPreRotation, event.RulePreRotation, "signing threshold differs from the committed next threshold")
	}
	if !Matches(commitment, revealed, kt) {
		return event.NewError(event.KindPreRotation, event.RulePreRotation, "revealed keys do not match the prior commitment")
	}
	return nil
}
