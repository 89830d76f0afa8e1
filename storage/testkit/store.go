// Package testkit holds the conformance suite every storage backend must
// pass.
package testkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

// NewStore constructs a fresh, empty Store for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.Store

// Record returns a synthetic record for prefix at sn. The bytes are not a
// valid event; stores treat them as opaque.
func Record(prefix string, sn uint64, variant string) storage.Record {
	return storage.Record{
		Prefix:     prefix,
		Sn:         sn,
		Digest:     fmt.Sprintf("%s-%d-%s", prefix, sn, variant),
		Raw:        []byte(fmt.Sprintf(`{"i":%q,"s":"%x","v":%q}`, prefix, sn, variant)),
		Signatures: []event.Signature{{Index: 0, Sig: []byte{byte(sn), 1, 2}}},
	}
}

func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("AppendEventsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		for sn := uint64(0); sn < 3; sn++ {
			if err := s.Append(ctx, Record("aid-a", sn, "x")); err != nil {
				t.Fatalf("Append(%d) failed: %v", sn, err)
			}
		}
		got, err := s.Events(ctx, "aid-a")
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d records, want 3", len(got))
		}
		for i, r := range got {
			want := Record("aid-a", uint64(i), "x")
			if !storage.SameRecord(r, want) || !bytes.Equal(r.Raw, want.Raw) {
				t.Fatalf("record %d mismatch: %+v", i, r)
			}
			if len(r.Signatures) != 1 || !bytes.Equal(r.Signatures[0].Sig, want.Signatures[0].Sig) {
				t.Fatalf("record %d signatures mismatch", i)
			}
		}
	})

	t.Run("AppendIdempotent", func(t *testing.T) {
		s := newStore(t)
		rec := Record("aid-a", 0, "x")
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append(1) failed: %v", err)
		}
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append(2) failed: %v", err)
		}
		got, _ := s.Events(ctx, "aid-a")
		if len(got) != 1 {
			t.Fatalf("got %d records, want 1", len(got))
		}
	})

	t.Run("AppendConflict", func(t *testing.T) {
		s := newStore(t)
		if err := s.Append(ctx, Record("aid-a", 0, "x")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		err := s.Append(ctx, Record("aid-a", 0, "y"))
		if !errors.Is(err, storage.ErrConflict) {
			t.Fatalf("got err=%v want ErrConflict", err)
		}
	})

	t.Run("AppendOutOfSequence", func(t *testing.T) {
		s := newStore(t)
		err := s.Append(ctx, Record("aid-a", 1, "x"))
		if !errors.Is(err, storage.ErrOutOfSequence) {
			t.Fatalf("got err=%v want ErrOutOfSequence", err)
		}
	})

	t.Run("EventByDigestAndNotFound", func(t *testing.T) {
		s := newStore(t)
		rec := Record("aid-b", 0, "x")
		if _, err := s.Event(ctx, rec.Digest); !storage.IsNotFound(err) {
			t.Fatalf("Event missing: got err=%v want ErrNotFound", err)
		}
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		got, err := s.Event(ctx, rec.Digest)
		if err != nil {
			t.Fatalf("Event failed: %v", err)
		}
		if !storage.SameRecord(got, rec) {
			t.Fatalf("Event returned %+v", got)
		}
	})

	t.Run("PrefixesSorted", func(t *testing.T) {
		s := newStore(t)
		for _, p := range []string{"aid-c", "aid-a", "aid-b"} {
			if err := s.Append(ctx, Record(p, 0, "x")); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}
		got, err := s.Prefixes(ctx)
		if err != nil {
			t.Fatalf("Prefixes failed: %v", err)
		}
		if len(got) != 3 || got[0] != "aid-a" || got[2] != "aid-c" {
			t.Fatalf("Prefixes = %v", got)
		}
	})

	t.Run("ReceiptsIdempotent", func(t *testing.T) {
		s := newStore(t)
		r := event.Receipt{Digest: "d1", Witness: "ed25519:w/2+", Signature: []byte{1}}
		added, err := s.PutReceipt(ctx, r)
		if err != nil || !added {
			t.Fatalf("PutReceipt(1) = %v, %v", added, err)
		}
		added, err = s.PutReceipt(ctx, r)
		if err != nil || added {
			t.Fatalf("PutReceipt(2) = %v, %v", added, err)
		}
		if _, err := s.PutReceipt(ctx, event.Receipt{Digest: "d1", Witness: "ed25519:w1", Signature: []byte{2}}); err != nil {
			t.Fatalf("PutReceipt(3) failed: %v", err)
		}
		got, err := s.Receipts(ctx, "d1")
		if err != nil {
			t.Fatalf("Receipts failed: %v", err)
		}
		if len(got) != 2 || got[0].Witness > got[1].Witness {
			t.Fatalf("Receipts = %+v", got)
		}
		none, err := s.Receipts(ctx, "d2")
		if err != nil || len(none) != 0 {
			t.Fatalf("Receipts(d2) = %v, %v", none, err)
		}
	})

	t.Run("DuplicitousSideLog", func(t *testing.T) {
		s := newStore(t)
		a, b := Record("aid-d", 1, "x"), Record("aid-d", 1, "y")
		for _, r := range []storage.Record{b, a, a} {
			if err := s.PutDuplicitous(ctx, r); err != nil {
				t.Fatalf("PutDuplicitous failed: %v", err)
			}
		}
		got, err := s.Duplicitous(ctx, "aid-d")
		if err != nil {
			t.Fatalf("Duplicitous failed: %v", err)
		}
		if len(got) != 2 || got[0].Digest != a.Digest || got[1].Digest != b.Digest {
			t.Fatalf("Duplicitous = %+v", got)
		}
		if _, err := s.Event(ctx, a.Digest); !storage.IsNotFound(err) {
			t.Fatalf("duplicitous record must not enter the log, got %v", err)
		}
	})

	t.Run("PendingSideLog", func(t *testing.T) {
		s := newStore(t)
		first, second, other := Record("aid-p", 0, "x"), Record("aid-p", 0, "y"), Record("aid-q", 1, "x")
		for _, r := range []storage.Record{first, second, other} {
			if err := s.PutPending(ctx, r); err != nil {
				t.Fatalf("PutPending failed: %v", err)
			}
		}
		got, err := s.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		if len(got) != 2 || got[0].Digest != second.Digest || got[1].Digest != other.Digest {
			t.Fatalf("Pending = %+v", got)
		}
		if !bytes.Equal(got[0].Raw, second.Raw) || len(got[0].Signatures) != 1 {
			t.Fatalf("pending record not round-tripped: %+v", got[0])
		}

		if err := s.DeletePending(ctx, "aid-p", first.Digest); err != nil {
			t.Fatalf("DeletePending(stale) failed: %v", err)
		}
		if got, _ := s.Pending(ctx); len(got) != 2 {
			t.Fatalf("stale digest must not delete, got %+v", got)
		}
		if err := s.DeletePending(ctx, "aid-p", second.Digest); err != nil {
			t.Fatalf("DeletePending failed: %v", err)
		}
		if err := s.DeletePending(ctx, "aid-none", "d"); err != nil {
			t.Fatalf("DeletePending(absent) failed: %v", err)
		}
		got, err = s.Pending(ctx)
		if err != nil || len(got) != 1 || got[0].Prefix != "aid-q" {
			t.Fatalf("Pending after delete = %+v, %v", got, err)
		}
		if _, err := s.Event(ctx, other.Digest); !storage.IsNotFound(err) {
			t.Fatalf("pending record must not enter the log, got %v", err)
		}
	})

	t.Run("DelegatorSealPersisted", func(t *testing.T) {
		s := newStore(t)
		rec := Record("aid-e", 0, "x")
		rec.DelegatorSeal = &event.Seal{Prefix: "aid-parent", Sn: "3", Digest: "pd"}
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		got, err := s.Event(ctx, rec.Digest)
		if err != nil {
			t.Fatalf("Event failed: %v", err)
		}
		if got.DelegatorSeal == nil || *got.DelegatorSeal != *rec.DelegatorSeal {
			t.Fatalf("seal = %+v", got.DelegatorSeal)
		}
	})
}
