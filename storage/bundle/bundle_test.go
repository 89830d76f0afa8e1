package bundle_test

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"xdao.co/kel/event"
	"xdao.co/kel/keys"
	"xdao.co/kel/storage"
	"xdao.co/kel/storage/bundle"
	"xdao.co/kel/storage/memory"
	"xdao.co/kel/threshold"
)

func mustSigner(t *testing.T, b byte) keys.Signer {
	t.Helper()
	seed := make([]byte, keys.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	s, err := keys.NewEd25519Signer(seed)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// seed stores a one-event log signed by a fresh key and a receipt from a
// witness of that log.
func seed(t *testing.T, st storage.Store, b byte) storage.Record {
	t.Helper()
	s := mustSigner(t, b)
	w := mustSigner(t, b+100)
	m, err := event.Incept(event.InceptionParams{
		Keys:      []string{s.PublicKey()},
		Threshold: threshold.Simple(1),
		Witnesses: []string{w.PublicKey()},
		Toad:      1,
	}, event.Options{})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := s.Sign(m.Raw)
	if err != nil {
		t.Fatal(err)
	}
	rec := storage.Record{
		Prefix:     m.Event.Prefix,
		Sn:         0,
		Digest:     m.Event.Digest,
		Raw:        m.Raw,
		Signatures: []event.Signature{{Index: 0, Sig: sig}},
	}
	ctx := context.Background()
	if err := st.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	wsig, err := w.Sign(m.Raw)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.PutReceipt(ctx, event.Receipt{Digest: rec.Digest, Witness: w.PublicKey(), Signature: wsig}); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestBundle_ExportIsDeterministic(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	a := seed(t, st, 1)
	b := seed(t, st, 2)

	var outA bytes.Buffer
	if err := bundle.Export(ctx, &outA, st, []string{b.Prefix, a.Prefix}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	var outB bytes.Buffer
	if err := bundle.Export(ctx, &outB, st, []string{a.Prefix, b.Prefix, a.Prefix}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(outA.Bytes(), outB.Bytes()) {
		t.Fatalf("expected deterministic bundle bytes")
	}
}

func TestBundle_ReadLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	rec := seed(t, src, 3)

	var buf bytes.Buffer
	if err := bundle.Export(ctx, &buf, src, []string{rec.Prefix}, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		t.Fatal(err)
	}
	c, err := bundle.Read(bytes.NewReader(buf.Bytes()), bundle.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Records) != 1 || len(c.Receipts) != 1 {
		t.Fatalf("got %d records, %d receipts", len(c.Records), len(c.Receipts))
	}

	dst := memory.New()
	if err := bundle.Load(ctx, c, dst); err != nil {
		t.Fatal(err)
	}
	got, err := dst.Event(ctx, rec.Digest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Raw, rec.Raw) || len(got.Signatures) != 1 {
		t.Fatalf("record mismatch")
	}
	rs, err := dst.Receipts(ctx, rec.Digest)
	if err != nil || len(rs) != 1 {
		t.Fatalf("receipts = %v, %v", rs, err)
	}
}

func TestBundle_SkipReceipts(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	rec := seed(t, src, 4)

	var buf bytes.Buffer
	if err := bundle.Export(ctx, &buf, src, []string{rec.Prefix}, bundle.ExportOptions{SkipReceipts: true}); err != nil {
		t.Fatal(err)
	}
	c, err := bundle.Read(&buf, bundle.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Receipts) != 0 {
		t.Fatalf("expected no receipts, got %d", len(c.Receipts))
	}
}

func TestBundle_ReadRejectsTamperedEvent(t *testing.T) {
	rec := seed(t, memory.New(), 5)
	rec.Raw = bytes.Replace(rec.Raw, []byte(`"bt":"1"`), []byte(`"bt":"0"`), 1)
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	bundleBytes := makeDeterministicTar(t, "kel/"+rec.Prefix+"/0000000000000000.json", b)
	if _, err := bundle.Read(bytes.NewReader(bundleBytes), bundle.ImportOptions{}); err == nil {
		t.Fatalf("expected tampered event to be rejected")
	}
}

func TestBundle_ReadRejectsMisplacedEvent(t *testing.T) {
	rec := seed(t, memory.New(), 6)
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	bundleBytes := makeDeterministicTar(t, "kel/"+rec.Prefix+"/0000000000000001.json", b)
	_, err = bundle.Read(bytes.NewReader(bundleBytes), bundle.ImportOptions{})
	if !errors.Is(err, storage.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestBundle_ReadUnknownEntry(t *testing.T) {
	bundleBytes := makeDeterministicTar(t, "blocks/whatever", []byte("x"))
	if _, err := bundle.Read(bytes.NewReader(bundleBytes), bundle.ImportOptions{}); err == nil {
		t.Fatalf("expected unknown entry to fail closed")
	}
	c, err := bundle.Read(bytes.NewReader(bundleBytes), bundle.ImportOptions{IgnoreUnknown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Records) != 0 {
		t.Fatalf("unexpected records")
	}
}

func makeDeterministicTar(t *testing.T, name string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	h := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  time.Unix(0, 0).UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
