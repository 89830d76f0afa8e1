package storeregistry_test

import (
	"flag"
	"testing"

	"xdao.co/kel/storage"
	"xdao.co/kel/storage/localfs"
	_ "xdao.co/kel/storage/memory"
	"xdao.co/kel/storage/storeregistry"
)

func TestNamesByUsage(t *testing.T) {
	daemon := storeregistry.Names(storeregistry.UsageDaemon)
	want := map[string]bool{"localfs": true, "memory": true, "replicating": true}
	for _, n := range daemon {
		delete(want, n)
	}
	if len(want) != 0 {
		t.Fatalf("missing daemon backends %v in %v", want, daemon)
	}
	for _, n := range storeregistry.Names(storeregistry.UsageCLI) {
		if n == "replicating" {
			t.Fatalf("replicating should not be offered to the CLI")
		}
	}
}

func TestFlagsOverrideConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	opts := storeregistry.Options{"localfs-dir": "/from/config"}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	storeregistry.RegisterFlags(fs, storeregistry.UsageDaemon, opts)
	if err := fs.Parse([]string{"--localfs-dir", dir}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts["localfs-dir"] != dir {
		t.Fatalf("flag did not override option: %q", opts["localfs-dir"])
	}
	s, err := storeregistry.Open("localfs", storeregistry.UsageDaemon, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*localfs.Store); !ok {
		t.Fatalf("got %T", s)
	}
}

func TestOpenReplicating(t *testing.T) {
	s, err := storeregistry.Open("replicating", storeregistry.UsageDaemon, storeregistry.Options{
		"replicate":   "memory,localfs",
		"localfs-dir": t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, ok := s.(*storage.ReplicatingStore)
	if !ok || len(r.Backends) != 2 {
		t.Fatalf("got %T %+v", s, s)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := storeregistry.Open("nope", storeregistry.UsageDaemon, nil); err == nil {
		t.Fatalf("expected error")
	}
}
