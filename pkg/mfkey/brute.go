package mfkey

import (
	"context"
	"log/slog"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// BruteSpace is the number of candidates tried by BruteForce.
const BruteSpace = 1 << 16

// progressEvery is the number of batches between progress log lines.
const progressEvery = 20

// BruteForce tries every value of the first two key bytes while keeping the
// last four bytes of partial. Exhausting the space returns found=false and a
// nil error; an oracle error aborts the search.
func (e *Engine) BruteForce(ctx context.Context, block uint8, kt mfclassic.KeyType, partial mfclassic.Key) (mfclassic.Key, bool, error) {
	n := e.checker.MaxBatch()
	if n <= 0 {
		n = mfclassic.DefaultMaxBatch
	}
	batch := make([]mfclassic.Key, 0, n)

	batches := 0
	for start := 0; start < BruteSpace; start += n {
		end := min(start+n, BruteSpace)
		batch = batch[:0]
		for p := start; p < end; p++ {
			k := partial
			k[0] = byte(p >> 8)
			k[1] = byte(p)
			batch = append(batch, k)
		}

		idx, found, err := e.check(ctx, block, kt, true, batch)
		if err != nil {
			return mfclassic.Key{}, false, err
		}
		if found {
			slog.Info("found key", "block", block, "key_type", kt.String(), "key", batch[idx].String())
			return batch[idx], true, nil
		}

		batches++
		if e.cfg.Progress != nil {
			e.cfg.Progress(end, BruteSpace)
		}
		if batches%progressEvery == 0 {
			slog.Info("brute force progress", "tried", end, "last", batch[len(batch)-1].String())
		}
	}
	slog.Info("brute force exhausted", "block", block, "key_type", kt.String())
	return mfclassic.Key{}, false, nil
}
