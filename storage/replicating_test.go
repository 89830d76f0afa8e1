package storage_test

import (
	"context"
	"errors"
	"testing"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/memory"
	"xdao.co/kel/storage/testkit"
)

func TestReplicatingStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		return &storage.ReplicatingStore{Backends: []storage.NamedStore{
			{Name: "a", Store: memory.New()},
			{Name: "b", Store: memory.New()},
		}}
	})
}

func TestReplicatingStore_WritesEverywhere(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New(), memory.New()
	r := &storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	rec := testkit.Record("aid", 0, "x")
	if err := r.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	for name, s := range map[string]storage.Store{"a": a, "b": b} {
		if _, err := s.Event(ctx, rec.Digest); err != nil {
			t.Fatalf("backend %s missing record: %v", name, err)
		}
	}
}

func TestReplicatingStore_ReadFallsBack(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New(), memory.New()
	rec := testkit.Record("aid", 0, "x")
	if err := b.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	r := &storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	got, err := r.Event(ctx, rec.Digest)
	if err != nil || got.Digest != rec.Digest {
		t.Fatalf("Event = %+v, %v", got, err)
	}
	recs, err := r.Events(ctx, "aid")
	if err != nil || len(recs) != 1 {
		t.Fatalf("Events = %d, %v", len(recs), err)
	}
}

func TestReplicatingStore_ConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	a, b := memory.New(), memory.New()
	if err := b.Append(ctx, testkit.Record("aid", 0, "other")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	r := &storage.ReplicatingStore{Backends: []storage.NamedStore{{Name: "a", Store: a}, {Name: "b", Store: b}}}
	err := r.Append(ctx, testkit.Record("aid", 0, "x"))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("got err=%v want ErrConflict", err)
	}
}

func TestReplicatingStore_NoBackends(t *testing.T) {
	r := &storage.ReplicatingStore{}
	if err := r.Append(context.Background(), testkit.Record("aid", 0, "x")); err == nil {
		t.Fatalf("expected error with no backends")
	}
}
