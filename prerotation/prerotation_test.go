package prerotation

import (
	"testing"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/threshold"
)

func keyN(t *testing.T, b byte) string {
	t.Helper()
	s, err := keys.SignerAt(keys.Ed25519, make([]byte, keys.SeedSize), uint32(b))
	if err != nil {
		t.Fatalf("SignerAt: %v", err)
	}
	return s.PublicKey()
}

func TestCommitAndCheck(t *testing.T) {
	next := []string{keyN(t, 1), keyN(t, 2)}
	nt := threshold.Simple(2)
	c, err := Commit(next, nt, cidutil.SHA3256)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := Check(c, nt, next, nt); err != nil {
		t.Fatalf("Check: %v", err)
	}

	swapped := []string{next[1], next[0]}
	if err := Check(c, nt, swapped, nt); !event.IsKind(err, event.KindPreRotation) {
		t.Fatalf("reordered keys should mismatch, got %v", err)
	}
	if err := Check(c, nt, next, threshold.Simple(1)); !event.IsKind(err, event.KindPreRotation) {
		t.Fatalf("changed threshold should mismatch, got %v", err)
	}
	if err := Check(c, nt, []string{keyN(t, 3), keyN(t, 2)}, nt); !event.IsKind(err, event.KindPreRotation) {
		t.Fatalf("foreign key should mismatch, got %v", err)
	}
}

func TestEmptyCommitmentAbandons(t *testing.T) {
	c, err := Commit(nil, threshold.Simple(0), cidutil.Default)
	if err != nil || c != "" {
		t.Fatalf("Commit(nil) = %q, %v", c, err)
	}
	if err := Check("", threshold.Simple(0), []string{keyN(t, 1)}, threshold.Simple(1)); event.RuleID(err) != event.RulePreRotation {
		t.Fatalf("expected pre-rotation rejection, got %v", err)
	}
}

func TestWeightedCommitment(t *testing.T) {
	next := []string{keyN(t, 1), keyN(t, 2), keyN(t, 3)}
	nt, _ := threshold.Weighted([]string{"1/2", "1/2", "1/2"})
	c, err := Commit(next, nt, cidutil.Default)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !Matches(c, next, nt) {
		t.Fatalf("expected match")
	}
	if _, err := Commit(next[:2], nt, cidutil.Default); err == nil {
		t.Fatalf("expected weight count mismatch error")
	}
}
