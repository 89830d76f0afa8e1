// Package bundle moves key event logs between stores as deterministic TAR
// archives. A bundle holds the admitted events of some identifiers, their
// signatures and the witness receipts counted for them.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"xdao.co/kel/event"
	"xdao.co/kel/storage"
)

// FormatVersion is the current bundle index schema version.
const FormatVersion = 1

var epoch0 = time.Unix(0, 0).UTC()

// Source is the read side of a store. storage.Store satisfies it.
type Source interface {
	Events(ctx context.Context, prefix string) ([]storage.Record, error)
	Receipts(ctx context.Context, digest string) ([]event.Receipt, error)
}

// ExportOptions controls bundle export behavior.
type ExportOptions struct {
	// IncludeIndex controls whether index.json is included.
	IncludeIndex bool
	// SkipReceipts leaves witness receipts out of the bundle.
	SkipReceipts bool
}

// Contents is what a bundle carries.
type Contents struct {
	// Records are ordered by identifier, then sequence number.
	Records []storage.Record
	// Receipts are ordered by event digest, then witness.
	Receipts []event.Receipt
}

// Export writes a deterministic TAR bundle of the logs of prefixes.
//
// The bundle bytes are deterministic: entries are written in a fixed order and TAR
// headers are normalized. Every exported event is checked against its
// self-addressing digest.
func Export(ctx context.Context, w io.Writer, src Source, prefixes []string, opts ExportOptions) error {
	if src == nil {
		return fmt.Errorf("bundle: nil source")
	}
	uniq := make(map[string]bool, len(prefixes))
	for _, p := range prefixes {
		if err := safeName(p); err != nil {
			return err
		}
		uniq[p] = true
	}
	sorted := make([]string, 0, len(uniq))
	for p := range uniq {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	tw := tar.NewWriter(w)
	fail := func(err error) error {
		_ = tw.Close()
		return err
	}

	var logs []indexLog
	var receipts []event.Receipt
	for _, prefix := range sorted {
		recs, err := src.Events(ctx, prefix)
		if err != nil {
			return fail(fmt.Errorf("bundle: events of %s: %w", prefix, err))
		}
		entry := indexLog{Prefix: prefix, Events: len(recs)}
		for _, rec := range recs {
			if err := checkRecord(rec); err != nil {
				return fail(err)
			}
			b, err := json.Marshal(rec)
			if err != nil {
				return fail(err)
			}
			if err := writeFile(tw, eventPath(prefix, rec.Sn), b); err != nil {
				return fail(err)
			}
			entry.Head = rec.Digest
			if opts.SkipReceipts {
				continue
			}
			rs, err := src.Receipts(ctx, rec.Digest)
			if err != nil && !storage.IsNotFound(err) {
				return fail(fmt.Errorf("bundle: receipts of %s: %w", rec.Digest, err))
			}
			receipts = append(receipts, rs...)
		}
		logs = append(logs, entry)
	}

	sortReceipts(receipts)
	for _, r := range receipts {
		b, err := json.Marshal(r)
		if err != nil {
			return fail(err)
		}
		if err := writeFile(tw, receiptPath(r), b); err != nil {
			return fail(err)
		}
	}

	if opts.IncludeIndex {
		b, err := marshalCanonicalIndexJSON(indexJSON{Version: FormatVersion, Logs: logs, Receipts: len(receipts)})
		if err != nil {
			return fail(err)
		}
		if err := writeFile(tw, "index.json", b); err != nil {
			return fail(err)
		}
	}
	return tw.Close()
}

// ImportOptions controls bundle import behavior.
type ImportOptions struct {
	// IgnoreUnknown controls whether unknown TAR entries are ignored.
	//
	// Default (false) is fail-closed: unknown entries cause Read to return an error.
	IgnoreUnknown bool
}

// Read parses a bundle. Each event must decode, match its self-addressing
// digest and sit at the path its identifier and sequence number name.
// Admission is left to the caller.
func Read(r io.Reader, opts ImportOptions) (Contents, error) {
	tr := tar.NewReader(r)
	seen := map[string]struct{}{}
	var out Contents

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Contents{}, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return Contents{}, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return Contents{}, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}
		if _, dup := seen[name]; dup {
			return Contents{}, fmt.Errorf("bundle: duplicate entry: %s", name)
		}
		seen[name] = struct{}{}

		switch {
		// Non-authoritative metadata.
		case name == "index.json":
			_, _ = io.Copy(io.Discard, tr)
		case strings.HasPrefix(name, "kel/"):
			var rec storage.Record
			if err := json.NewDecoder(tr).Decode(&rec); err != nil {
				return Contents{}, fmt.Errorf("bundle: %s: %w", name, err)
			}
			if err := checkRecord(rec); err != nil {
				return Contents{}, err
			}
			if eventPath(rec.Prefix, rec.Sn) != name {
				return Contents{}, fmt.Errorf("bundle: %s holds %s sn %d: %w", name, rec.Prefix, rec.Sn, storage.ErrInvalidRecord)
			}
			out.Records = append(out.Records, rec)
		case strings.HasPrefix(name, "receipts/"):
			var rc event.Receipt
			if err := json.NewDecoder(tr).Decode(&rc); err != nil {
				return Contents{}, fmt.Errorf("bundle: %s: %w", name, err)
			}
			if rc.Digest == "" || rc.Witness == "" || receiptPath(rc) != name {
				return Contents{}, fmt.Errorf("bundle: %s: %w", name, storage.ErrInvalidRecord)
			}
			out.Receipts = append(out.Receipts, rc)
		default:
			if opts.IgnoreUnknown {
				_, _ = io.Copy(io.Discard, tr)
				continue
			}
			return Contents{}, fmt.Errorf("bundle: unknown entry: %s", name)
		}
	}

	sort.SliceStable(out.Records, func(i, j int) bool {
		if out.Records[i].Prefix != out.Records[j].Prefix {
			return out.Records[i].Prefix < out.Records[j].Prefix
		}
		return out.Records[i].Sn < out.Records[j].Sn
	})
	sortReceipts(out.Receipts)
	return out, nil
}

// Load copies the contents of a bundle straight into dst without
// re-validating signatures. Use it only between stores under the same
// control; untrusted bundles go through engine admission.
func Load(ctx context.Context, c Contents, dst storage.Store) error {
	for _, rec := range c.Records {
		if err := dst.Append(ctx, rec); err != nil {
			return fmt.Errorf("bundle: append %s sn %d: %w", rec.Prefix, rec.Sn, err)
		}
	}
	for _, rc := range c.Receipts {
		if _, err := dst.PutReceipt(ctx, rc); err != nil {
			return fmt.Errorf("bundle: receipt %s: %w", rc.Digest, err)
		}
	}
	return nil
}

func checkRecord(rec storage.Record) error {
	if err := storage.CheckRecord(rec); err != nil {
		return err
	}
	if err := safeName(rec.Prefix); err != nil {
		return err
	}
	m, err := event.Decode(rec.Raw)
	if err != nil {
		return fmt.Errorf("bundle: %s sn %d: %w", rec.Prefix, rec.Sn, err)
	}
	if err := event.VerifySAID(m); err != nil {
		return fmt.Errorf("bundle: %s sn %d: %w", rec.Prefix, rec.Sn, err)
	}
	if m.Event.Prefix != rec.Prefix || m.SeqNo != rec.Sn || m.Event.Digest != rec.Digest {
		return fmt.Errorf("bundle: %s sn %d does not match its event: %w", rec.Prefix, rec.Sn, storage.ErrInvalidRecord)
	}
	return nil
}

func sortReceipts(rs []event.Receipt) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Digest != rs[j].Digest {
			return rs[i].Digest < rs[j].Digest
		}
		return rs[i].Witness < rs[j].Witness
	})
}

func eventPath(prefix string, sn uint64) string {
	return fmt.Sprintf("kel/%s/%016x.json", prefix, sn)
}

func receiptPath(r event.Receipt) string {
	sum := sha256.Sum256([]byte(r.Witness))
	return "receipts/" + r.Digest + "/" + hex.EncodeToString(sum[:]) + ".json"
}

type indexJSON struct {
	Version  int        `json:"version"`
	Logs     []indexLog `json:"logs"`
	Receipts int        `json:"receipts"`
}

type indexLog struct {
	Prefix string `json:"prefix"`
	Events int    `json:"events"`
	Head   string `json:"head,omitempty"`
}

func marshalCanonicalIndexJSON(idx indexJSON) ([]byte, error) {
	// indexJSON is composed only of structs + slices; encoding/json will be deterministic.
	b, err := json.Marshal(idx)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func safeName(s string) error {
	if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("bundle: unsafe identifier %q", s)
	}
	return nil
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
