package mfclassic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/barnettlynn/mfkey/pkg/crypto1"
)

// nonceDistance is the number of PRNG steps between two nonces handed out by
// the emulator. Real cards show a reader dependent distance; a fixed one keeps
// the emulator deterministic.
const nonceDistance = 160

// Emulator is an in-memory MIFARE Classic card. It answers key checks and
// nested nonce requests the way a field device would, and records reader
// sessions as raw frames.
type Emulator struct {
	mu   sync.Mutex
	uid  []byte
	atqa [2]byte
	sak  byte
	mem  *Image
	prng uint32

	// Latency delays every device answer; a context deadline shorter than
	// Latency yields a *TimeoutError.
	Latency time.Duration
	// Status, when non-zero, is reported by AcquireNonces as a device error.
	Status int
	// Batch overrides DefaultMaxBatch when positive.
	Batch int
}

// NewEmulator creates a card with every sector key set to FFFFFFFFFFFF and the
// transport access conditions. uid must be 4, 7 or 10 bytes.
func NewEmulator(uid []byte, blocks int, seed uint32) (*Emulator, error) {
	switch len(uid) {
	case 4, 7, 10:
	default:
		return nil, fmt.Errorf("uid must be 4, 7 or 10 bytes, got %d", len(uid))
	}
	e := &Emulator{
		uid:  append([]byte(nil), uid...),
		atqa: [2]byte{0x04, 0x00},
		sak:  0x08,
		mem:  NewImage(blocks),
		prng: crypto1.PRNGSuccessor(seed, 32),
	}
	if blocks > Blocks1K {
		e.atqa = [2]byte{0x02, 0x00}
		e.sak = 0x18
	}
	if !e.mem.SetManufacturerBlock(e.uid, e.atqa, e.sak) {
		copy(e.mem.Slice(0), e.uid)
	}
	def := KeyFromUint64(0xFFFFFFFFFFFF)
	for s := 0; s < SectorCount(e.mem.Blocks); s++ {
		first := FirstBlock(s)
		e.mem.SetKey(first, KeyA, def)
		e.mem.SetKey(first, KeyB, def)
		e.mem.EnsureAccess(first)
	}
	return e, nil
}

// UID returns the card UID.
func (e *Emulator) UID() []byte { return append([]byte(nil), e.uid...) }

// ATQA returns the anticollision answer bytes as sent on the air.
func (e *Emulator) ATQA() [2]byte { return e.atqa }

// SAK returns the select acknowledge byte.
func (e *Emulator) SAK() byte { return e.sak }

// CUID returns the 32-bit UID fed into the cipher.
func (e *Emulator) CUID() uint32 { return UIDToCUID(e.uid) }

// SetSectorKeys sets both keys of sector.
func (e *Emulator) SetSectorKeys(sector int, a, b Key) error {
	if sector < 0 || sector >= SectorCount(e.mem.Blocks) {
		return fmt.Errorf("sector %d out of range", sector)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	first := FirstBlock(sector)
	e.mem.SetKey(first, KeyA, a)
	e.mem.SetKey(first, KeyB, b)
	return nil
}

// SectorKey returns the key guarding block.
func (e *Emulator) SectorKey(block uint8, kt KeyType) Key {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mem.Key(block, kt)
}

// ReadBlocks copies count blocks starting at start out of emulator memory.
func (e *Emulator) ReadBlocks(start, count int) ([][BlockSize]byte, error) {
	if start < 0 || count < 0 || start+count > e.mem.Blocks {
		return nil, fmt.Errorf("blocks %d..%d out of range", start, start+count-1)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][BlockSize]byte, count)
	for i := range out {
		out[i] = e.mem.Block(uint8(start + i))
	}
	return out, nil
}

// WriteBlocks stores blocks into emulator memory starting at start.
func (e *Emulator) WriteBlocks(start int, blocks [][BlockSize]byte) error {
	if start < 0 || start+len(blocks) > e.mem.Blocks {
		return fmt.Errorf("blocks %d..%d out of range", start, start+len(blocks)-1)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, b := range blocks {
		e.mem.SetBlock(uint8(start+i), b)
	}
	return nil
}

// MaxBatch returns the number of keys accepted per CheckKeys call.
func (e *Emulator) MaxBatch() int {
	if e.Batch > 0 {
		return e.Batch
	}
	return DefaultMaxBatch
}

// CheckKeys returns the index of the first key matching the sector key of block.
func (e *Emulator) CheckKeys(ctx context.Context, block uint8, kt KeyType, clear bool, keys []Key) (int, bool, error) {
	if err := e.wait(ctx, "check keys"); err != nil {
		return 0, false, err
	}
	if len(keys) > e.MaxBatch() {
		return 0, false, fmt.Errorf("batch of %d keys exceeds %d", len(keys), e.MaxBatch())
	}
	want := e.SectorKey(block, kt)
	for i, k := range keys {
		if k == want {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// AcquireNonces authenticates with the known key, then runs two nested
// authentications against the target sector and returns the encrypted nonces.
func (e *Emulator) AcquireNonces(ctx context.Context, req NonceRequest) (NonceResponse, error) {
	var resp NonceResponse
	if err := e.wait(ctx, "nested"); err != nil {
		return resp, err
	}
	if e.Status != 0 {
		return resp, &DeviceError{Op: "nested", Code: e.Status}
	}
	if e.SectorKey(req.KnownBlock, req.KnownKeyType) != req.KnownKey {
		return resp, &DeviceError{Op: "nested", Code: 2}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if req.Calibrate {
		slog.Debug("nonce distance", "steps", nonceDistance)
	}
	cuid := e.CUID()
	target := e.mem.Key(req.TargetBlock, req.TargetKeyType)
	resp.UID = cuid
	resp.Block = req.TargetBlock
	resp.KeyType = req.TargetKeyType
	for i := range resp.Samples {
		nt := e.nextNonce()
		s := crypto1.New(target.Uint64())
		ks1 := s.Word(nt^cuid, false)
		resp.Samples[i] = NonceSample{NT: nt, KS1: ks1}
	}
	return resp, nil
}

func (e *Emulator) nextNonce() uint32 {
	e.prng = crypto1.PRNGSuccessor(e.prng, nonceDistance)
	return e.prng
}

func (e *Emulator) wait(ctx context.Context, op string) error {
	if e.Latency <= 0 {
		if err := ctx.Err(); err != nil {
			return &TimeoutError{Op: op, Cause: err}
		}
		return nil
	}
	t := time.NewTimer(e.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return &TimeoutError{Op: op, Cause: ctx.Err()}
	}
}
