package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

const (
	BackendPCSC     = "pcsc"
	BackendEmulator = "emulator"
)

type Config struct {
	Oracle     OracleConfig   `yaml:"oracle"`
	Emulator   EmulatorConfig `yaml:"emulator"`
	NoncesFile string         `yaml:"nonces_file"`
	Dictionary string         `yaml:"dictionary"`
}

type OracleConfig struct {
	Backend         string `yaml:"backend"`
	ReaderIndex     *int   `yaml:"reader_index"`
	NestedTimeoutMS *int   `yaml:"nested_timeout_ms"`
	CheckTimeoutMS  *int   `yaml:"check_timeout_ms"`
	MaxBatch        *int   `yaml:"max_batch"`
}

type EmulatorConfig struct {
	UID       string         `yaml:"uid"`
	Blocks    int            `yaml:"blocks"`
	Seed      uint32         `yaml:"seed"`
	LatencyMS int            `yaml:"latency_ms"`
	Sectors   []SectorConfig `yaml:"sectors"`
}

type SectorConfig struct {
	KeyA string `yaml:"key_a"`
	KeyB string `yaml:"key_b"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Oracle.Backend {
	case BackendPCSC:
		if c.Oracle.ReaderIndex == nil {
			return fmt.Errorf("config.oracle.reader_index is required for the pcsc backend")
		}
		if *c.Oracle.ReaderIndex < 0 {
			return fmt.Errorf("config.oracle.reader_index must be >= 0")
		}
	case BackendEmulator:
		if err := c.Emulator.validate(); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("config.oracle.backend is required")
	default:
		return fmt.Errorf("config.oracle.backend must be %q or %q, got %q", BackendPCSC, BackendEmulator, c.Oracle.Backend)
	}

	if c.Oracle.NestedTimeoutMS != nil && *c.Oracle.NestedTimeoutMS <= 0 {
		return fmt.Errorf("config.oracle.nested_timeout_ms must be > 0")
	}
	if c.Oracle.CheckTimeoutMS != nil && *c.Oracle.CheckTimeoutMS <= 0 {
		return fmt.Errorf("config.oracle.check_timeout_ms must be > 0")
	}
	if c.Oracle.MaxBatch != nil && (*c.Oracle.MaxBatch < 1 || *c.Oracle.MaxBatch > mfclassic.DefaultMaxBatch) {
		return fmt.Errorf("config.oracle.max_batch must be 1..%d", mfclassic.DefaultMaxBatch)
	}

	if c.NoncesFile != "" {
		if err := validateReadableFile(c.NoncesFile, "config.nonces_file"); err != nil {
			return err
		}
	}
	if c.Dictionary != "" {
		if err := validateReadableFile(c.Dictionary, "config.dictionary"); err != nil {
			return err
		}
	}
	return nil
}

func (e *EmulatorConfig) validate() error {
	uid, err := e.UIDBytes()
	if err != nil {
		return err
	}
	switch len(uid) {
	case 4, 7, 10:
	default:
		return fmt.Errorf("config.emulator.uid must be 4, 7 or 10 bytes, got %d", len(uid))
	}
	switch e.Blocks {
	case 0, mfclassic.Blocks1K, mfclassic.Blocks4K:
	default:
		return fmt.Errorf("config.emulator.blocks must be %d or %d", mfclassic.Blocks1K, mfclassic.Blocks4K)
	}
	if len(e.Sectors) > mfclassic.SectorCount(e.BlockCount()) {
		return fmt.Errorf("config.emulator.sectors has %d entries, card has %d sectors", len(e.Sectors), mfclassic.SectorCount(e.BlockCount()))
	}
	for i, s := range e.Sectors {
		if _, _, err := s.Keys(); err != nil {
			return fmt.Errorf("config.emulator.sectors[%d]: %w", i, err)
		}
	}
	if e.LatencyMS < 0 {
		return fmt.Errorf("config.emulator.latency_ms must be >= 0")
	}
	return nil
}

// UIDBytes decodes the emulated card UID.
func (e *EmulatorConfig) UIDBytes() ([]byte, error) {
	uid, err := hex.DecodeString(strings.TrimSpace(e.UID))
	if err != nil {
		return nil, fmt.Errorf("config.emulator.uid is invalid: %w", err)
	}
	return uid, nil
}

// BlockCount returns the configured card size, 1K when unset.
func (e *EmulatorConfig) BlockCount() int {
	if e.Blocks == 0 {
		return mfclassic.Blocks1K
	}
	return e.Blocks
}

// Keys parses both sector keys. An empty key means the factory default.
func (s SectorConfig) Keys() (mfclassic.Key, mfclassic.Key, error) {
	a, err := parseKeyOrDefault(s.KeyA)
	if err != nil {
		return a, a, fmt.Errorf("key_a: %w", err)
	}
	b, err := parseKeyOrDefault(s.KeyB)
	if err != nil {
		return a, b, fmt.Errorf("key_b: %w", err)
	}
	return a, b, nil
}

func parseKeyOrDefault(s string) (mfclassic.Key, error) {
	if strings.TrimSpace(s) == "" {
		return mfclassic.KeyFromUint64(0xFFFFFFFFFFFF), nil
	}
	return mfclassic.ParseKey(s)
}

func (c *Config) NestedTimeout() time.Duration {
	return msOr(c.Oracle.NestedTimeoutMS, 0)
}

func (c *Config) CheckTimeout() time.Duration {
	return msOr(c.Oracle.CheckTimeoutMS, 0)
}

func (c *Config) MaxBatch() int {
	if c.Oracle.MaxBatch == nil {
		return mfclassic.DefaultMaxBatch
	}
	return *c.Oracle.MaxBatch
}

func msOr(v *int, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(*v) * time.Millisecond
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.NoncesFile = resolvePath(configDir, c.NoncesFile)
	c.Dictionary = resolvePath(configDir, c.Dictionary)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
