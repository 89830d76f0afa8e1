// Package memory is a process-local Store. It is not durable and is meant
// for tests and ephemeral nodes.
package memory

import (
	"context"
	"sort"
	"sync"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

type Store struct {
	mu       sync.RWMutex
	logs     map[string][]storage.Record
	byDigest map[string]storage.Record
	receipts map[string]map[string]event.Receipt
	dups     map[string][]storage.Record
	pending  map[string]storage.Record
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		logs:     map[string][]storage.Record{},
		byDigest: map[string]storage.Record{},
		receipts: map[string]map[string]event.Receipt{},
		dups:     map[string][]storage.Record{},
		pending:  map[string]storage.Record{},
	}
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[rec.Prefix]
	if rec.Sn < uint64(len(log)) {
		if log[rec.Sn].Digest == rec.Digest {
			return nil
		}
		return storage.ErrConflict
	}
	if rec.Sn != uint64(len(log)) {
		return storage.ErrOutOfSequence
	}
	rec = cloneRecord(rec)
	s.logs[rec.Prefix] = append(log, rec)
	s.byDigest[rec.Digest] = rec
	return nil
}

func (s *Store) Events(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Record, 0, len(s.logs[prefix]))
	for _, r := range s.logs[prefix] {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *Store) Event(ctx context.Context, digest string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byDigest[digest]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *Store) Prefixes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.logs))
	for p := range s.logs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) PutReceipt(ctx context.Context, r event.Receipt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.Digest == "" || r.Witness == "" {
		return false, storage.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.receipts[r.Digest]
	if m == nil {
		m = map[string]event.Receipt{}
		s.receipts[r.Digest] = m
	}
	if _, ok := m[r.Witness]; ok {
		return false, nil
	}
	r.Signature = append([]byte(nil), r.Signature...)
	m[r.Witness] = r
	return true, nil
}

func (s *Store) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Receipt, 0, len(s.receipts[digest]))
	for _, r := range s.receipts[digest] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Witness < out[j].Witness })
	return out, nil
}

func (s *Store) PutDuplicitous(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.dups[rec.Prefix] {
		if d.Digest == rec.Digest {
			return nil
		}
	}
	s.dups[rec.Prefix] = append(s.dups[rec.Prefix], cloneRecord(rec))
	return nil
}

func (s *Store) Duplicitous(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Record, 0, len(s.dups[prefix]))
	for _, r := range s.dups[prefix] {
		out = append(out, cloneRecord(r))
	}
	storage.SortRecords(out)
	return out, nil
}

func (s *Store) PutPending(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.Prefix] = cloneRecord(rec)
	return nil
}

func (s *Store) DeletePending(ctx context.Context, prefix, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.pending[prefix]; ok && r.Digest == digest {
		delete(s.pending, prefix)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Record, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, cloneRecord(r))
	}
	storage.SortByPrefix(out)
	return out, nil
}

func (s *Store) Close() error { return nil }

func cloneRecord(r storage.Record) storage.Record {
	r.Raw = append([]byte(nil), r.Raw...)
	r.Signatures = append([]event.Signature(nil), r.Signatures...)
	if r.DelegatorSeal != nil {
		seal := *r.DelegatorSeal
		r.DelegatorSeal = &seal
	}
	return r
}
