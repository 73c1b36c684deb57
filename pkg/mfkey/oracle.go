package mfkey

import (
	"context"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// KeyChecker verifies candidate keys against a card.
//
// CheckKeys returns the index of the first key in keys that authenticates
// block, or found=false when none does. keys never exceeds MaxBatch. clear
// asks the device to drop any previous session state before checking.
// A deadline on ctx must surface as *mfclassic.TimeoutError.
type KeyChecker interface {
	CheckKeys(ctx context.Context, block uint8, kt mfclassic.KeyType, clear bool, keys []mfclassic.Key) (index int, found bool, err error)
	MaxBatch() int
}

// NestedDevice collects the two nested authentication samples used by the
// nested attack. A non-zero device status must surface as *mfclassic.DeviceError.
type NestedDevice interface {
	AcquireNonces(ctx context.Context, req mfclassic.NonceRequest) (mfclassic.NonceResponse, error)
}

var (
	_ KeyChecker   = (*mfclassic.Reader)(nil)
	_ KeyChecker   = (*mfclassic.Emulator)(nil)
	_ NestedDevice = (*mfclassic.Emulator)(nil)
	_ NestedDevice = (*FileDevice)(nil)
)
