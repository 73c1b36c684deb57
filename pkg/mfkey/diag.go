package mfkey

import (
	"context"
	"log/slog"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// CheckSectors tries a key dictionary on both key slots of every sector.
// Sectors whose keys stay unknown are reported with HasA/HasB false; a device
// error aborts the sweep and returns the sectors checked so far.
func (e *Engine) CheckSectors(ctx context.Context, sectors int, dict []mfclassic.Key) ([]mfclassic.SectorKeys, error) {
	results := make([]mfclassic.SectorKeys, 0, sectors)
	for s := 0; s < sectors; s++ {
		block := mfclassic.TrailerOf(mfclassic.FirstBlock(s))
		res := mfclassic.SectorKeys{Sector: s}

		key, found, err := e.verify(ctx, block, mfclassic.KeyA, true, dict)
		if err != nil {
			return results, err
		}
		res.A, res.HasA = key, found

		key, found, err = e.verify(ctx, block, mfclassic.KeyB, true, dict)
		if err != nil {
			return results, err
		}
		res.B, res.HasB = key, found

		slog.Debug("sector checked", "sector", s, "key_a", res.HasA, "key_b", res.HasB)
		results = append(results, res)
	}
	return results, nil
}
