package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/kel/cidutil"
	"xdao.co/kel/event"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "keld.toml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:5621" || cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	opts, err := cfg.EventOptions()
	if err != nil || opts.Alg != cidutil.Blake3 || opts.Kind != event.JSON {
		t.Fatalf("EventOptions = %+v, %v", opts, err)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	p := writeFile(t, `
listen = "0.0.0.0:7000"
digest = "sha3-256"

[storage]
backend = "sqlite"
[storage.options]
sqlite-path = "/tmp/kel.db"

[engine]
max_escrow = 8
`)
	t.Setenv("KEL_LISTEN", "127.0.0.1:7001")
	t.Setenv("KEL_SERIALIZATION", "CBOR")
	t.Setenv("KEL_ENGINE_MAX_BUFFERED_RECEIPTS", "5")
	t.Setenv("KEL_ENGINE_MAX_ESCROW_IDENTIFIERS", "7")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7001" {
		t.Fatalf("env did not override listen: %q", cfg.Listen)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Options["sqlite-path"] != "/tmp/kel.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Engine.MaxEscrow != 8 || cfg.Engine.MaxBufferedReceipts != 5 || cfg.Engine.MaxEscrowIdentifiers != 7 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	opts, err := cfg.EventOptions()
	if err != nil || opts.Alg != cidutil.SHA3256 || opts.Kind != event.CBOR {
		t.Fatalf("EventOptions = %+v, %v", opts, err)
	}
	if !cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "keld" {
		t.Fatalf("telemetry defaults lost: %+v", cfg.Telemetry)
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key": "lisen = \"x\"\n",
		"bad digest":  "digest = \"md5\"\n",
		"bad kind":    "serialization = \"XML\"\n",
		"negative":    "[engine]\nmax_escrow = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("KEL_ENGINE_MAX_ESCROW", "not-an-int")
	err := ParseEnv(Default())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
