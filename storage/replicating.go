package storage

import (
	"context"
	"errors"
	"fmt"

	"xdao.co/kel/event"
)

// NamedStore associates a Store with a stable backend name.
type NamedStore struct {
	Name  string
	Store Store
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order: the first backend that has the data answers.
// A write fails if any backend fails it, so a record reported durable is
// durable everywhere.
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ Store = (*ReplicatingStore)(nil)

func (r *ReplicatingStore) each(fn func(b NamedStore) error) error {
	if len(r.Backends) == 0 {
		return fmt.Errorf("storage: ReplicatingStore has no backends")
	}
	for _, b := range r.Backends {
		if b.Store == nil {
			return fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		if err := fn(b); err != nil {
			return fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
	}
	return nil
}

func (r *ReplicatingStore) Append(ctx context.Context, rec Record) error {
	return r.each(func(b NamedStore) error { return b.Store.Append(ctx, rec) })
}

func (r *ReplicatingStore) Events(ctx context.Context, prefix string) ([]Record, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		out, err := b.Store.Events(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (r *ReplicatingStore) Event(ctx context.Context, digest string) (Record, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		rec, err := b.Store.Event(ctx, digest)
		if err == nil {
			return rec, nil
		}
		if !IsNotFound(err) {
			return Record{}, err
		}
	}
	return Record{}, ErrNotFound
}

func (r *ReplicatingStore) Prefixes(ctx context.Context) ([]string, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		return b.Store.Prefixes(ctx)
	}
	return nil, nil
}

func (r *ReplicatingStore) PutReceipt(ctx context.Context, rc event.Receipt) (bool, error) {
	var added bool
	err := r.each(func(b NamedStore) error {
		ok, err := b.Store.PutReceipt(ctx, rc)
		added = added || ok
		return err
	})
	return added, err
}

func (r *ReplicatingStore) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		out, err := b.Store.Receipts(ctx, digest)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (r *ReplicatingStore) PutDuplicitous(ctx context.Context, rec Record) error {
	return r.each(func(b NamedStore) error { return b.Store.PutDuplicitous(ctx, rec) })
}

func (r *ReplicatingStore) Duplicitous(ctx context.Context, prefix string) ([]Record, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		out, err := b.Store.Duplicitous(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (r *ReplicatingStore) PutPending(ctx context.Context, rec Record) error {
	return r.each(func(b NamedStore) error { return b.Store.PutPending(ctx, rec) })
}

func (r *ReplicatingStore) DeletePending(ctx context.Context, prefix, digest string) error {
	return r.each(func(b NamedStore) error { return b.Store.DeletePending(ctx, prefix, digest) })
}

func (r *ReplicatingStore) Pending(ctx context.Context) ([]Record, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		out, err := b.Store.Pending(ctx)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, nil
}

func (r *ReplicatingStore) Close() error {
	var errs []error
	for _, b := range r.Backends {
		if b.Store != nil {
			errs = append(errs, b.Store.Close())
		}
	}
	return errors.Join(errs...)
}
