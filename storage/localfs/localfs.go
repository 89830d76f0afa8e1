// Package localfs is a Store on the local filesystem.
//
// Every log entry is its own file, created with O_EXCL and never rewritten,
// so an entry that was reported durable cannot be silently replaced.
//
//	<root>/kel/<prefix>/<sn 16 hex>.json   log entries
//	<root>/digest/<digest>                  "<prefix> <sn>" index
//	<root>/receipts/<digest>/<sha256(witness)>.json
//	<root>/duplicitous/<prefix>/<digest>.json
//	<root>/pending/<prefix>.json            replaced in place via rename
package localfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

type Store struct {
	root string
	// mu serializes appends so the next-sequence check and the write are
	// atomic within this process.
	mu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New constructs a filesystem store rooted at root. The directory will be
// created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func safeName(s string) error {
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("localfs: unsafe path component %q", s)
	}
	return nil
}

func (s *Store) logDir(prefix string) string { return filepath.Join(s.root, "kel", prefix) }

func (s *Store) entryPath(prefix string, sn uint64) string {
	return filepath.Join(s.logDir(prefix), fmt.Sprintf("%016x.json", sn))
}

func (s *Store) digestPath(digest string) string { return filepath.Join(s.root, "digest", digest) }

// writeOnce creates path exclusively. If the file exists with the same
// content it reports success; with different content it returns exists=true.
func writeOnce(path string, b []byte) (exists bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				return true, rerr
			}
			return !bytes.Equal(existing, b), nil
		}
		return false, err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return false, err
	}
	return false, nil
}

func (s *Store) Append(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	if err := safeName(rec.Prefix); err != nil {
		return err
	}
	if err := safeName(rec.Digest); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.length(rec.Prefix)
	if err != nil {
		return err
	}
	if rec.Sn < n {
		existing, err := s.readEntry(s.entryPath(rec.Prefix, rec.Sn))
		if err != nil {
			return err
		}
		if existing.Digest == rec.Digest {
			return nil
		}
		return storage.ErrConflict
	}
	if rec.Sn != n {
		return storage.ErrOutOfSequence
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// The digest index goes first: a crash between the two writes leaves an
	// index entry pointing at a missing file, which reads as not found.
	if _, err := writeOnce(s.digestPath(rec.Digest), []byte(rec.Prefix+" "+strconv.FormatUint(rec.Sn, 10))); err != nil {
		return err
	}
	exists, err := writeOnce(s.entryPath(rec.Prefix, rec.Sn), b)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrConflict
	}
	return nil
}

func (s *Store) length(prefix string) (uint64, error) {
	entries, err := os.ReadDir(s.logDir(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var n uint64
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

func (s *Store) readEntry(path string) (storage.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, err
	}
	var rec storage.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return storage.Record{}, fmt.Errorf("localfs: corrupt entry %s: %w", path, err)
	}
	return rec, nil
}

func (s *Store) Events(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := safeName(prefix); err != nil {
		return nil, err
	}
	n, err := s.length(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Record, 0, n)
	for sn := uint64(0); sn < n; sn++ {
		rec, err := s.readEntry(s.entryPath(prefix, sn))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Event(ctx context.Context, digest string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	if err := safeName(digest); err != nil {
		return storage.Record{}, storage.ErrNotFound
	}
	b, err := os.ReadFile(s.digestPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Record{}, storage.ErrNotFound
		}
		return storage.Record{}, err
	}
	prefix, snStr, ok := strings.Cut(string(b), " ")
	if !ok {
		return storage.Record{}, fmt.Errorf("localfs: corrupt digest index for %s", digest)
	}
	sn, err := strconv.ParseUint(snStr, 10, 64)
	if err != nil {
		return storage.Record{}, fmt.Errorf("localfs: corrupt digest index for %s", digest)
	}
	rec, err := s.readEntry(s.entryPath(prefix, sn))
	if err != nil {
		return storage.Record{}, err
	}
	if rec.Digest != digest {
		return storage.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Prefixes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, "kel"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func witnessFile(w string) string {
	sum := sha256.Sum256([]byte(w))
	return hex.EncodeToString(sum[:]) + ".json"
}

func (s *Store) PutReceipt(ctx context.Context, r event.Receipt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if r.Digest == "" || r.Witness == "" {
		return false, storage.ErrInvalidRecord
	}
	if err := safeName(r.Digest); err != nil {
		return false, err
	}
	path := filepath.Join(s.root, "receipts", r.Digest, witnessFile(r.Witness))
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return false, err
	}
	if _, err := writeOnce(path, b); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Receipts(ctx context.Context, digest string) ([]event.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := safeName(digest); err != nil {
		return nil, nil
	}
	dir := filepath.Join(s.root, "receipts", digest)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]event.Receipt, 0, len(entries))
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var r event.Receipt
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("localfs: corrupt receipt %s: %w", e.Name(), err)
		}
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
	if err := safeName(rec.Prefix); err != nil {
		return err
	}
	if err := safeName(rec.Digest); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = writeOnce(filepath.Join(s.root, "duplicitous", rec.Prefix, rec.Digest+".json"), b)
	return err
}

func (s *Store) Duplicitous(ctx context.Context, prefix string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := safeName(prefix); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, "duplicitous", prefix)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]storage.Record, 0, len(entries))
	for _, e := range entries {
		rec, err := s.readEntry(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	storage.SortRecords(out)
	return out, nil
}

func (s *Store) pendingPath(prefix string) string {
	return filepath.Join(s.root, "pending", prefix+".json")
}

// writeReplace writes path through a synced temp file and a rename.
func writeReplace(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) PutPending(ctx context.Context, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	if err := safeName(rec.Prefix); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeReplace(s.pendingPath(rec.Prefix), b)
}

func (s *Store) DeletePending(ctx context.Context, prefix, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := safeName(prefix); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.pendingPath(prefix)
	rec, err := s.readEntry(path)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	if rec.Digest != digest {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, "pending")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]storage.Record, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		rec, err := s.readEntry(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	storage.SortByPrefix(out)
	return out, nil
}

func (s *Store) Close() error { return nil }
