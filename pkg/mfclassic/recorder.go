package mfclassic

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/barnettlynn/mfkey/pkg/crypto1"
)

// Direction tells who sent a frame.
type Direction uint8

const (
	ReaderToCard Direction = 0
	CardToReader Direction = 1
)

func (d Direction) String() string {
	if d == CardToReader {
		return "TAG"
	}
	return "RDR"
}

// Exchange is one frame observed on the air interface.
type Exchange struct {
	Dir  Direction
	Data []byte
}

// Recorder drives a reader session against an Emulator and records every
// frame exactly as a sniffer positioned between reader and card would see it.
type Recorder struct {
	e      *Emulator
	cipher *crypto1.State
	sector int
	frames []Exchange
}

// Record starts a new recording against e.
func (e *Emulator) Record() *Recorder {
	return &Recorder{e: e, sector: -1}
}

// Frames returns the recorded frames.
func (r *Recorder) Frames() []Exchange { return r.frames }

func (r *Recorder) emit(dir Direction, data []byte) {
	r.frames = append(r.frames, Exchange{Dir: dir, Data: data})
}

// encrypt XORs data with the running keystream, byte wise or as a 4-bit ACK.
func (r *Recorder) encrypt(data []byte) []byte {
	if r.cipher == nil {
		return data
	}
	out := make([]byte, len(data))
	if len(data) == 1 {
		for i := uint(0); i < 4; i++ {
			out[0] |= (r.cipher.Bit(0, false) ^ data[0]>>i&1) << i
		}
		return out
	}
	for i, b := range data {
		out[i] = b ^ r.cipher.Byte(0, false)
	}
	return out
}

// Select records a cascade level 1 SELECT and the SAK answer and drops any
// running cipher session.
func (r *Recorder) Select() {
	r.cipher = nil
	r.sector = -1
	uid := r.e.uid
	cl := make([]byte, 4)
	if len(uid) == 4 {
		copy(cl, uid)
	} else {
		cl[0] = 0x88
		copy(cl[1:], uid[:3])
	}
	sel := []byte{CmdSel1, 0x70, cl[0], cl[1], cl[2], cl[3], cl[0] ^ cl[1] ^ cl[2] ^ cl[3]}
	r.emit(ReaderToCard, AppendCRCA(sel))
	r.emit(CardToReader, AppendCRCA([]byte{r.e.sak}))
}

// Auth records a three pass authentication to block with the emulator's key.
// nr is the reader nonce. Nested authentication inside a running session is
// not supported.
func (r *Recorder) Auth(block uint8, kt KeyType, nr uint32) error {
	if r.cipher != nil {
		return errors.New("authentication while a session is running")
	}
	if int(block) >= r.e.mem.Blocks {
		return fmt.Errorf("block %d out of range", block)
	}
	key := r.e.SectorKey(block, kt)
	cuid := r.e.CUID()

	r.emit(ReaderToCard, AppendCRCA([]byte{kt.AuthCommand(), block}))

	r.e.mu.Lock()
	nt := r.e.nextNonce()
	r.e.mu.Unlock()
	r.emit(CardToReader, be32(nt))

	s := crypto1.New(key.Uint64())
	s.Word(cuid^nt, false)
	nrEnc := nr ^ s.Word(nr, false)
	arEnc := crypto1.PRNGSuccessor(nt, 64) ^ s.Word(0, false)
	r.emit(ReaderToCard, append(be32(nrEnc), be32(arEnc)...))

	atEnc := crypto1.PRNGSuccessor(nt, 96) ^ s.Word(0, false)
	r.emit(CardToReader, be32(atEnc))

	r.cipher = &s
	r.sector = SectorOf(block)
	return nil
}

func (r *Recorder) checkSector(block uint8) error {
	if r.cipher == nil {
		return errors.New("not authenticated")
	}
	if SectorOf(block) != r.sector {
		return fmt.Errorf("block %d outside authenticated sector %d", block, r.sector)
	}
	return nil
}

// Read records a READ of block and the encrypted answer. Trailer keys read as zero.
func (r *Recorder) Read(block uint8) error {
	if err := r.checkSector(block); err != nil {
		return err
	}
	r.emit(ReaderToCard, r.encrypt(AppendCRCA([]byte{CmdRead, block})))

	blocks, err := r.e.ReadBlocks(int(block), 1)
	if err != nil {
		return err
	}
	data := blocks[0]
	if IsTrailer(block) {
		clear(data[0:6])
		clear(data[10:16])
	}
	r.emit(CardToReader, r.encrypt(AppendCRCA(data[:])))
	return nil
}

// Write records a WRITE of block with both ACKs and stores data in the emulator.
func (r *Recorder) Write(block uint8, data [BlockSize]byte) error {
	if err := r.checkSector(block); err != nil {
		return err
	}
	r.emit(ReaderToCard, r.encrypt(AppendCRCA([]byte{CmdWrite, block})))
	r.emit(CardToReader, r.encrypt([]byte{ACK}))
	r.emit(ReaderToCard, r.encrypt(AppendCRCA(append([]byte(nil), data[:]...))))
	r.emit(CardToReader, r.encrypt([]byte{ACK}))
	return r.e.WriteBlocks(int(block), [][BlockSize]byte{data})
}

// Halt records HLTA and ends the session.
func (r *Recorder) Halt() {
	r.emit(ReaderToCard, r.encrypt(AppendCRCA([]byte{CmdHalt, 0x00})))
	r.cipher = nil
	r.sector = -1
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
