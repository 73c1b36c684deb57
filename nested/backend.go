package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barnettlynn/mfkey/nested/internal/config"
	"github.com/barnettlynn/mfkey/pkg/mfclassic"
	"github.com/barnettlynn/mfkey/pkg/mfkey"
)

// backend bundles the key oracle and the nonce source selected in the config.
type backend struct {
	name    string
	uid     []byte
	blocks  int
	checker mfkey.KeyChecker
	dev     mfkey.NestedDevice

	readSector func(ctx context.Context, img *mfclassic.Image, sector int, kt mfclassic.KeyType, key mfclassic.Key) (int, error)
	close      func()
}

func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Oracle.Backend {
	case config.BackendPCSC:
		return openPCSC(cfg)
	case config.BackendEmulator:
		return openEmulator(cfg)
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Oracle.Backend)
	}
}

func openPCSC(cfg *config.Config) (*backend, error) {
	conn, err := mfclassic.Connect(*cfg.Oracle.ReaderIndex)
	if err != nil {
		return nil, err
	}
	uid, err := mfclassic.GetUID(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("get uid failed: %w", err)
	}
	slog.Debug("card present", "reader", conn.Reader, "uid", fmt.Sprintf("%X", uid))

	b := &backend{
		name:    fmt.Sprintf("reader [%d]: %s", conn.ReaderIdx, conn.Reader),
		uid:     uid,
		blocks:  mfclassic.Blocks1K,
		checker: mfclassic.NewReader(conn, cfg.MaxBatch()),
		readSector: func(_ context.Context, img *mfclassic.Image, sector int, kt mfclassic.KeyType, key mfclassic.Key) (int, error) {
			return mfclassic.ReadSector(conn, img, sector, kt, key)
		},
		close: conn.Close,
	}
	// PC/SC readers cannot run a nested authentication, the samples come from a file.
	if cfg.NoncesFile != "" {
		b.dev = &mfkey.FileDevice{Path: cfg.NoncesFile}
	}
	return b, nil
}

func openEmulator(cfg *config.Config) (*backend, error) {
	uid, err := cfg.Emulator.UIDBytes()
	if err != nil {
		return nil, err
	}
	blocks := cfg.Emulator.BlockCount()
	emu, err := mfclassic.NewEmulator(uid, blocks, cfg.Emulator.Seed)
	if err != nil {
		return nil, err
	}
	for i, s := range cfg.Emulator.Sectors {
		a, b, err := s.Keys()
		if err != nil {
			return nil, fmt.Errorf("sector %d: %w", i, err)
		}
		if err := emu.SetSectorKeys(i, a, b); err != nil {
			return nil, err
		}
	}
	emu.Latency = time.Duration(cfg.Emulator.LatencyMS) * time.Millisecond
	emu.Batch = cfg.MaxBatch()

	b := &backend{
		name:    fmt.Sprintf("emulator uid %X", uid),
		uid:     uid,
		blocks:  blocks,
		checker: emu,
		dev:     emu,
		readSector: func(ctx context.Context, img *mfclassic.Image, sector int, kt mfclassic.KeyType, key mfclassic.Key) (int, error) {
			first := mfclassic.FirstBlock(sector)
			if _, ok, err := emu.CheckKeys(ctx, first, kt, true, []mfclassic.Key{key}); err != nil {
				return 0, err
			} else if !ok {
				return 0, fmt.Errorf("sector %d: key %s %s rejected", sector, kt, key)
			}
			data, err := emu.ReadBlocks(int(first), mfclassic.BlocksInSector(sector))
			if err != nil {
				return 0, err
			}
			for i, blk := range data {
				img.SetBlock(first+uint8(i), blk)
			}
			img.SetKey(first, kt, key)
			return len(data), nil
		},
		close: func() {},
	}
	if cfg.NoncesFile != "" {
		b.dev = &mfkey.FileDevice{Path: cfg.NoncesFile}
	}
	return b, nil
}

// dump reads every sector with a known key into a new image. Key B is used
// only when key A is unknown; both known keys end up in the trailer.
func dump(ctx context.Context, b *backend, keys []mfclassic.SectorKeys) (*mfclassic.Image, int) {
	img := mfclassic.NewImage(b.blocks)
	total := 0
	for _, sk := range keys {
		kt, key := mfclassic.KeyA, sk.A
		if !sk.HasA {
			if !sk.HasB {
				continue
			}
			kt, key = mfclassic.KeyB, sk.B
		}
		n, err := b.readSector(ctx, img, sk.Sector, kt, key)
		if err != nil {
			slog.Warn("sector dump failed", "sector", sk.Sector, "error", err)
			continue
		}
		first := mfclassic.FirstBlock(sk.Sector)
		if sk.HasA {
			img.SetKey(first, mfclassic.KeyA, sk.A)
		}
		if sk.HasB {
			img.SetKey(first, mfclassic.KeyB, sk.B)
		}
		total += n
	}
	return img, total
}

// mergeKey records a recovered key in the sweep table, growing it as needed.
func mergeKey(keys []mfclassic.SectorKeys, block uint8, kt mfclassic.KeyType, key mfclassic.Key) []mfclassic.SectorKeys {
	sector := mfclassic.SectorOf(block)
	for len(keys) <= sector {
		keys = append(keys, mfclassic.SectorKeys{Sector: len(keys)})
	}
	if kt == mfclassic.KeyB {
		keys[sector].B, keys[sector].HasB = key, true
	} else {
		keys[sector].A, keys[sector].HasA = key, true
	}
	return keys
}
