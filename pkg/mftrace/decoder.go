package mftrace

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/barnettlynn/mfkey/pkg/crypto1"
	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// MaxFrameLen is the longest frame the decoder accepts.
const MaxFrameLen = 64

// State is the decoder protocol position.
type State int

const (
	StateIdle State = iota
	StateAuth1
	StateAuth2
	StateAuthOK
	StateReadData
	StateWriteOK
	StateWriteData
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuth1:
		return "AUTH1"
	case StateAuth2:
		return "AUTH2"
	case StateAuthOK:
		return "AUTH_OK"
	case StateReadData:
		return "READ_DATA"
	case StateWriteOK:
		return "WRITE_OK"
	case StateWriteData:
		return "WRITE_DATA"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// ErrHalted is returned for every frame once the decoder is in StateError.
var ErrHalted = errors.New("trace decoder halted")

// FrameError reports the frame that moved the decoder into StateError.
type FrameError struct {
	State  State // state the frame arrived in
	Len    int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame of %d bytes in %s: %s", e.Len, e.State, e.Reason)
}

// Frame is the decoder's view of one observed frame.
type Frame struct {
	Data      []byte // plaintext when Decrypted, raw bytes otherwise
	Decrypted bool
	State     State // state after the frame
	Updated   bool  // the memory image changed
	KeyFound  bool
	Key       mfclassic.Key
	Block     uint8
	KeyType   mfclassic.KeyType
}

// Decoder follows one card's reader/card exchange, recovers the keys of every
// observed authentication and mirrors read and written blocks into an image.
// It is not safe for concurrent use.
type Decoder struct {
	img  *mfclassic.Image
	cuid uint32

	state   State
	block   uint8
	keyType mfclassic.KeyType

	nt, nrEnc, arEnc, atEnc uint32
	ks2, ks3                uint32

	live *crypto1.State
	log  *slog.Logger
}

// NewDecoder starts decoding a card. img receives recovered keys and blocks;
// a nil img allocates a 1K image. Block 0 gets UID, BCC, SAK and ATQA for
// 4-byte UIDs.
func NewDecoder(img *mfclassic.Image, uid []byte, atqa [2]byte, sak byte) *Decoder {
	if img == nil {
		img = mfclassic.NewImage(mfclassic.Blocks1K)
	}
	if !img.SetManufacturerBlock(uid, atqa, sak) && img.IsEmpty() {
		copy(img.Slice(0), uid)
	}
	return &Decoder{
		img:  img,
		cuid: mfclassic.UIDToCUID(uid),
		log:  slog.Default(),
	}
}

// SetLogger replaces the logger used for decoded frames and keys.
func (d *Decoder) SetLogger(l *slog.Logger) { d.log = l }

// Image returns the memory image being filled in.
func (d *Decoder) Image() *mfclassic.Image { return d.img }

// State returns the current protocol position.
func (d *Decoder) State() State { return d.state }

// CUID returns the 32-bit UID used by the cipher.
func (d *Decoder) CUID() uint32 { return d.cuid }

// Live returns a copy of the cipher state used to decrypt traffic.
func (d *Decoder) Live() (crypto1.State, bool) {
	if d.live == nil {
		return crypto1.State{}, false
	}
	return *d.live, true
}

// Reset drops the cipher session and returns to StateIdle. The image and
// UID are kept.
func (d *Decoder) Reset() {
	d.state = StateIdle
	d.block = 0
	d.keyType = mfclassic.KeyA
	d.nt, d.nrEnc, d.arEnc, d.atEnc = 0, 0, 0, 0
	d.ks2, d.ks3 = 0, 0
	d.live = nil
}

// Decode feeds the next observed frame.
func (d *Decoder) Decode(frame []byte) (Frame, error) {
	if d.state == StateError {
		return Frame{Data: frame, State: StateError}, ErrHalted
	}
	if len(frame) > MaxFrameLen {
		return d.fail(Frame{Data: frame}, "frame too long")
	}

	data := append([]byte(nil), frame...)
	out := Frame{Data: data}
	if d.live != nil && (d.state == StateIdle || d.state > StateAuthOK) {
		decrypt(d.live, data)
		out.Decrypted = true
		d.log.Debug("DEC", "data", fmt.Sprintf("% X", data))
	}

	var err error
	switch d.state {
	case StateIdle:
		out, err = d.idle(out)
	case StateAuth1:
		if len(data) != 4 {
			return d.fail(out, "tag nonce must be 4 bytes")
		}
		d.nt = be32(data)
		d.state = StateAuth2
	case StateAuth2:
		if len(data) != 8 {
			return d.fail(out, "reader answer must be 8 bytes")
		}
		d.nrEnc = be32(data[0:4])
		d.arEnc = be32(data[4:8])
		d.state = StateAuthOK
	case StateAuthOK:
		if len(data) != 4 {
			return d.fail(out, "tag answer must be 4 bytes")
		}
		d.atEnc = be32(data)
		out, err = d.deriveKey(out)
	case StateReadData:
		if len(data) != 18 {
			return d.fail(out, "read answer must be 18 bytes")
		}
		if mfclassic.IsTrailer(d.block) {
			copy(d.img.Slice(d.block)[6:10], data[6:10])
		} else {
			copy(d.img.Slice(d.block), data[:16])
		}
		out.Updated = true
		out.Block = d.block
		d.state = StateIdle
	case StateWriteOK:
		if len(data) != 1 || data[0] != mfclassic.ACK {
			return d.fail(out, "expected write ACK")
		}
		d.state = StateWriteData
	case StateWriteData:
		if len(data) != 18 {
			return d.fail(out, "write data must be 18 bytes")
		}
		copy(d.img.Slice(d.block), data[:16])
		out.Updated = true
		out.Block = d.block
		d.state = StateIdle
	}
	out.State = d.state
	return out, err
}

func (d *Decoder) idle(out Frame) (Frame, error) {
	data := out.Data
	if len(data) >= 4 && !mfclassic.CheckCRCA(data) {
		d.log.Warn("DEC CRC error", "data", fmt.Sprintf("% X", data))
		return d.fail(out, "CRC error")
	}
	if len(data) != 4 {
		return out, nil
	}

	switch {
	case data[0] == mfclassic.CmdAuthA || data[0] == mfclassic.CmdAuthB:
		d.block = data[1]
		d.keyType = mfclassic.KeyA
		if data[0] == mfclassic.CmdAuthB {
			d.keyType = mfclassic.KeyB
		}
		d.state = StateAuth1
	case data[0] == mfclassic.CmdRead:
		d.block = data[1]
		d.state = StateReadData
	case data[0] == mfclassic.CmdWrite:
		d.block = data[1]
		d.state = StateWriteOK
	case data[0] == mfclassic.CmdHalt && data[1] == 0x00:
		// Traffic after HLTA belongs to the next activation.
		d.state = StateError
	}
	out.Block = d.block
	return out, nil
}

func (d *Decoder) deriveKey(out Frame) (Frame, error) {
	d.ks2 = d.arEnc ^ crypto1.PRNGSuccessor(d.nt, 64)
	d.ks3 = d.atEnc ^ crypto1.PRNGSuccessor(d.nt, 96)
	st, ok := crypto1.RecoverFull(d.ks2, d.ks3)
	if !ok {
		return d.fail(out, "no cipher state matches keystream")
	}

	rev := st
	rev.RollbackWord(0, false)
	rev.RollbackWord(0, false)
	rev.RollbackWord(d.nrEnc, true)
	rev.RollbackWord(d.cuid^d.nt, false)
	key := mfclassic.KeyFromUint64(rev.Key())

	d.img.EnsureAccess(d.block)
	d.img.SetKey(d.block, d.keyType, key)

	live := st
	d.live = &live
	d.state = StateIdle

	d.log.Info("found key", "block", d.block, "key_type", d.keyType.String(), "key", key.String())
	out.KeyFound = true
	out.Key = key
	out.Block = d.block
	out.KeyType = d.keyType
	out.Updated = true
	return out, nil
}

func (d *Decoder) fail(out Frame, reason string) (Frame, error) {
	err := &FrameError{State: d.state, Len: len(out.Data), Reason: reason}
	d.state = StateError
	d.live = nil
	out.State = StateError
	return out, err
}

// decrypt XORs data with the keystream in place. A single byte frame is the
// 4-bit ACK/NAK and consumes four keystream bits.
func decrypt(s *crypto1.State, data []byte) {
	if len(data) == 1 {
		var b byte
		for i := uint(0); i < 4; i++ {
			b |= (s.Bit(0, false) ^ data[0]>>i&1) << i
		}
		data[0] = b
		return
	}
	for i := range data {
		data[i] ^= s.Byte(0, false)
	}
}

// DecryptWord decrypts data that directly follows an authentication, given
// the tag nonce and the encrypted reader and tag answers of that exchange.
func DecryptWord(nt, arEnc, atEnc uint32, data []byte) ([]byte, error) {
	ks2 := arEnc ^ crypto1.PRNGSuccessor(nt, 64)
	ks3 := atEnc ^ crypto1.PRNGSuccessor(nt, 96)
	st, ok := crypto1.RecoverFull(ks2, ks3)
	if !ok {
		return nil, errors.New("no cipher state matches keystream")
	}
	out := append([]byte(nil), data...)
	decrypt(&st, out)
	return out, nil
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
