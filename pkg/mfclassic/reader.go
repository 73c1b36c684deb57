package mfclassic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultMaxBatch is the number of keys checked per oracle round trip:
// a 512 byte transfer buffer holding 6 byte keys.
const DefaultMaxBatch = 512 / KeySize

// Reader checks candidate keys against a card through PC/SC pseudo-APDUs.
type Reader struct {
	mu    sync.Mutex
	card  Card
	batch int
}

// NewReader wraps card as a key checker. maxBatch <= 0 selects DefaultMaxBatch.
func NewReader(card Card, maxBatch int) *Reader {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Reader{card: card, batch: maxBatch}
}

// MaxBatch returns the number of keys accepted per CheckKeys call.
func (r *Reader) MaxBatch() int { return r.batch }

type checkResult struct {
	index int
	found bool
	err   error
}

// CheckKeys tries each key in order and returns the index of the first one
// that authenticates block. Batches larger than MaxBatch are rejected. Readers keep no trace buffer, so clear has no effect.
func (r *Reader) CheckKeys(ctx context.Context, block uint8, kt KeyType, clear bool, keys []Key) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, &TimeoutError{Op: "check keys", Cause: err}
	}
	if len(keys) > r.batch {
		return 0, false, fmt.Errorf("batch of %d keys exceeds %d", len(keys), r.batch)
	}

	done := make(chan checkResult, 1)
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx, found, err := r.check(ctx, block, kt, keys)
		done <- checkResult{index: idx, found: found, err: err}
	}()

	select {
	case res := <-done:
		return res.index, res.found, res.err
	case <-ctx.Done():
		return 0, false, &TimeoutError{Op: "check keys", Cause: ctx.Err()}
	}
}

func (r *Reader) check(ctx context.Context, block uint8, kt KeyType, keys []Key) (int, bool, error) {
	for i, key := range keys {
		if ctx.Err() != nil {
			return 0, false, &TimeoutError{Op: "check keys", Cause: ctx.Err()}
		}
		err := AuthenticateKey(r.card, block, kt, key)
		if err == nil {
			return i, true, nil
		}
		if !IsWrongKey(err) {
			return 0, false, err
		}
		if rs, ok := r.card.(Reselecter); ok {
			if err := rs.Reselect(); err != nil {
				return 0, false, err
			}
		}
	}
	slog.Debug("batch rejected", "block", block, "key_type", kt.String(), "keys", len(keys))
	return 0, false, nil
}
