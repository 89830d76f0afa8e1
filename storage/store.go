package storage

import (
	"context"
	"sort"

	"xdao.co/kel/event"
)

// Record is one admitted event as persisted.
type Record struct {
	Prefix     string            `json:"i"`
	Sn         uint64            `json:"s"`
	Digest     string            `json:"d"`
	Raw        []byte            `json:"raw"`
	Signatures []event.Signature `json:"sigs"`
	// DelegatorSeal is the approving delegator seal of a delegated
	// establishment event.
	DelegatorSeal *event.Seal `json:"seal,omitempty"`
}

// Store persists key event logs and their side logs.
//
// Contract:
//   - Append MUST be durable before it returns nil.
//   - Append MUST accept records only at the next sequence number of their
//     identifier (ErrOutOfSequence otherwise). Re-appending an identical
//     record is a no-op; a different digest at an occupied position is
//     ErrConflict.
//   - Logs are never reordered or truncated.
//   - Event and lookups of absent data MUST return ErrNotFound.
//   - PutReceipt MUST be idempotent per (digest, witness); it reports
//     whether the receipt was new.
//   - The pending side log holds at most one record per identifier:
//     PutPending replaces it, DeletePending removes it only when the digest
//     matches and is a no-op otherwise.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Events(ctx context.Context, prefix string) ([]Record, error)
	Event(ctx context.Context, digest string) (Record, error)
	Prefixes(ctx context.Context) ([]string, error)

	PutReceipt(ctx context.Context, r event.Receipt) (bool, error)
	Receipts(ctx context.Context, digest string) ([]event.Receipt, error)

	PutDuplicitous(ctx context.Context, rec Record) error
	Duplicitous(ctx context.Context, prefix string) ([]Record, error)

	// Delegated events awaiting their delegator's approval.
	PutPending(ctx context.Context, rec Record) error
	DeletePending(ctx context.Context, prefix, digest string) error
	Pending(ctx context.Context) ([]Record, error)

	Close() error
}

// SameRecord reports whether two records describe the same log entry.
func SameRecord(a, b Record) bool {
	return a.Prefix == b.Prefix && a.Sn == b.Sn && a.Digest == b.Digest
}

// SortByPrefix orders records by identifier.
func SortByPrefix(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Prefix < recs[j].Prefix })
}

// SortRecords orders records by sequence number, then digest.
func SortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Sn != recs[j].Sn {
			return recs[i].Sn < recs[j].Sn
		}
		return recs[i].Digest < recs[j].Digest
	})
}
