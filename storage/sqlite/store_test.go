package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/testkit"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kel.sqlite"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		return openTempStore(t)
	})
}

func TestSQLite_ReopenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kel.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Append(context.Background(), testkit.Record("aid", 0, "x")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	recs, err := s.Events(context.Background(), "aid")
	if err != nil || len(recs) != 1 {
		t.Fatalf("Events = %d, %v", len(recs), err)
	}
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a(x);\n" {
		t.Fatalf("upSection = %q", got)
	}
}
