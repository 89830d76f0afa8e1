// Package boltdb is a Store backed by a bbolt key/value file.
//
// Layout: the "events" bucket holds one nested bucket per identifier keyed
// by big-endian sequence number; "digests" maps digest to prefix and
// sequence number; "receipts" holds one nested bucket per digest keyed by
// witness; "duplicitous" holds one nested bucket per identifier keyed by
// digest; "pending" maps identifier to its held delegated event.
package boltdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

const (
	eventsBucket      = "events"
	digestsBucket     = "digests"
	receiptsBucket    = "receipts"
	duplicitousBucket = "duplicitous"
	pendingBucket     = "pending"
)

type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{eventsBucket, digestsBucket, receiptsBucket, duplicitousBucket, pendingBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func snKey(sn uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], sn)
	return k[:]
}

func digestValue(prefix string, sn uint64) []byte {
	return append(append([]byte(prefix), 0), snKey(sn)...)
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		log, err := tx.Bucket([]byte(eventsBucket)).CreateBucketIfNotExists([]byte(rec.Prefix))
		if err != nil {
			return err
		}
		var next uint64
		if k, _ := log.Cursor().Last(); k != nil {
			next = binary.BigEndian.Uint64(k) + 1
		}
		if rec.Sn < next {
			var existing storage.Record
			if err := json.Unmarshal(log.Get(snKey(rec.Sn)), &existing); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			if existing.Digest == rec.Digest {
				return nil
			}
			return storage.ErrConflict
		}
		if rec.Sn != next {
			return storage.ErrOutOfSequence
		}
		digests := tx.Bucket([]byte(digestsBucket))
		if v := digests.Get([]byte(rec.Digest)); v != nil && !bytes.Equal(v, digestValue(rec.Prefix, rec.Sn)) {
			return storage.ErrConflict
		}
		if err := log.Put(snKey(rec.Sn), payload); err != nil {
			return err
		}
		return digests.Put([]byte(rec.Digest), digestValue(rec.Prefix, rec.Sn))
	})
}

func (s *Store) Events(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		log := tx.Bucket([]byte(eventsBucket)).Bucket([]byte(prefix))
		if log == nil {
			return nil
		}
		return log.ForEach(func(_, v []byte) error {
			var rec storage.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Store) Event(ctx context.Context, digest string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	var rec storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(digestsBucket)).Get([]byte(digest))
		if v == nil {
			return storage.ErrNotFound
		}
		i := bytes.IndexByte(v, 0)
		if i < 0 || len(v)-i-1 != 8 {
			return fmt.Errorf("corrupt digest index for %s", digest)
		}
		log := tx.Bucket([]byte(eventsBucket)).Bucket(v[:i])
		if log == nil {
			return storage.ErrNotFound
		}
		payload := log.Get(v[i+1:])
		if payload == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(payload, &rec)
	})
	if err != nil {
		return storage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Prefixes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(eventsBucket)).ForEachBucket(func(k []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	sort.Strings(out)
	return out, err
}

func (s *Store) PutReceipt(ctx context.Context, r event.Receipt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.Digest == "" || r.Witness == "" {
		return false, storage.ErrInvalidRecord
	}
	var added bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(receiptsBucket)).CreateBucketIfNotExists([]byte(r.Digest))
		if err != nil {
			return err
		}
		if b.Get([]byte(r.Witness)) != nil {
			return nil
		}
		added = true
		return b.Put([]byte(r.Witness), r.Signature)
	})
	return added, err
}

func (s *Store) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []event.Receipt
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(receiptsBucket)).Bucket([]byte(digest))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			out = append(out, event.Receipt{
				Digest:    digest,
				Witness:   string(k),
				Signature: append([]byte(nil), v...),
			})
			return nil
		})
	})
	return out, err
}

func (s *Store) PutDuplicitous(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(duplicitousBucket)).CreateBucketIfNotExists([]byte(rec.Prefix))
		if err != nil {
			return err
		}
		if b.Get([]byte(rec.Digest)) != nil {
			return nil
		}
		return b.Put([]byte(rec.Digest), payload)
	})
}

func (s *Store) Duplicitous(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(duplicitousBucket)).Bucket([]byte(prefix))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec storage.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	storage.SortRecords(out)
	return out, err
}

func (s *Store) PutPending(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).Put([]byte(rec.Prefix), payload)
	})
}

func (s *Store) DeletePending(ctx context.Context, prefix, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(pendingBucket))
		v := b.Get([]byte(prefix))
		if v == nil {
			return nil
		}
		var rec storage.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		if rec.Digest != digest {
			return nil
		}
		return b.Delete([]byte(prefix))
	})
}

func (s *Store) Pending(ctx context.Context) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(pendingBucket)).ForEach(func(_, v []byte) error {
			var rec storage.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
