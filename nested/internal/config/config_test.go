package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

func TestLoadEmulatorConfigAndResolveRelativePaths(t *testing.T) {
	tmp := t.TempDir()
	noncesPath := filepath.Join(tmp, "nonces.yaml")
	dictPath := filepath.Join(tmp, "keys.dic")
	if err := os.WriteFile(noncesPath, []byte("uid: \"DEADBEEF\"\n"), 0o644); err != nil {
		t.Fatalf("write nonces: %v", err)
	}
	if err := os.WriteFile(dictPath, []byte("FFFFFFFFFFFF\n"), 0o644); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
oracle:
  backend: emulator
  nested_timeout_ms: 500
  max_batch: 40
emulator:
  uid: "DEADBEEF"
  seed: 4660
  sectors:
    - key_a: "A0A1A2A3A4A5"
    - key_b: "4A6352684677"
nonces_file: "nonces.yaml"
dictionary: "keys.dic"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.NoncesFile != noncesPath {
		t.Fatalf("expected resolved nonces path %q, got %q", noncesPath, cfg.NoncesFile)
	}
	if cfg.Dictionary != dictPath {
		t.Fatalf("expected resolved dictionary path %q, got %q", dictPath, cfg.Dictionary)
	}
	if cfg.NestedTimeout() != 500*time.Millisecond {
		t.Fatalf("unexpected nested timeout %v", cfg.NestedTimeout())
	}
	if cfg.CheckTimeout() != 0 {
		t.Fatalf("expected unset check timeout, got %v", cfg.CheckTimeout())
	}
	if cfg.MaxBatch() != 40 {
		t.Fatalf("unexpected max batch %d", cfg.MaxBatch())
	}
	if cfg.Emulator.BlockCount() != mfclassic.Blocks1K {
		t.Fatalf("expected 1K default, got %d", cfg.Emulator.BlockCount())
	}

	a, b, err := cfg.Emulator.Sectors[1].Keys()
	if err != nil {
		t.Fatalf("Keys returned error: %v", err)
	}
	if a != mfclassic.KeyFromUint64(0xFFFFFFFFFFFF) || b != mfclassic.KeyFromUint64(0x4A6352684677) {
		t.Fatalf("unexpected sector keys %s %s", a, b)
	}
}

func TestLoadPCSCRequiresReaderIndex(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: pcsc
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.oracle.reader_index is required") {
		t.Fatalf("expected missing reader index error, got %v", err)
	}
}

func TestLoadDefaultsMaxBatch(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: pcsc
  reader_index: 1
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxBatch() != mfclassic.DefaultMaxBatch {
		t.Fatalf("expected default max batch, got %d", cfg.MaxBatch())
	}
}

func TestLoadFailsOnUnknownBackend(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: proxmark
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.oracle.backend must be") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestLoadFailsOnOversizedBatch(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: pcsc
  reader_index: 0
  max_batch: 86
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.oracle.max_batch") {
		t.Fatalf("expected max batch error, got %v", err)
	}
}

func TestLoadFailsOnBadEmulatorKey(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: emulator
emulator:
  uid: "DEADBEEF"
  sectors:
    - key_a: "XYZ"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.emulator.sectors[0]") {
		t.Fatalf("expected sector key error, got %v", err)
	}
}

func TestLoadFailsOnBadUIDLength(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: emulator
emulator:
  uid: "DEADBE"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "4, 7 or 10 bytes") {
		t.Fatalf("expected uid length error, got %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: pcsc
  reader_index: 0
  retries: 3
`)

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadFailsWhenNoncesFileMissing(t *testing.T) {
	cfgPath := writeConfig(t, `
oracle:
  backend: pcsc
  reader_index: 0
nonces_file: "missing.yaml"
`)

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "config.nonces_file") {
		t.Fatalf("expected missing nonces file error, got %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}
