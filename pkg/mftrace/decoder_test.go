package mftrace

import (
	"errors"
	"testing"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

var testUID = []byte{0x9C, 0x59, 0x9B, 0x32}

func newTraceEmulator(t *testing.T) *mfclassic.Emulator {
	t.Helper()
	e, err := mfclassic.NewEmulator(testUID, mfclassic.Blocks1K, 0xBEEF)
	if err != nil {
		t.Fatalf("NewEmulator returned error: %v", err)
	}
	if err := e.SetSectorKeys(1, mfclassic.KeyFromUint64(0x4A6352684677), mfclassic.KeyFromUint64(0xA0A1A2A3A4A5)); err != nil {
		t.Fatalf("SetSectorKeys returned error: %v", err)
	}
	if err := e.WriteBlocks(5, [][mfclassic.BlockSize]byte{{0xDE, 0xAD, 0xBE, 0xEF, 1, 2, 3, 4}}); err != nil {
		t.Fatalf("WriteBlocks returned error: %v", err)
	}
	return e
}

func decodeAll(t *testing.T, dec *Decoder, frames []mfclassic.Exchange) []Frame {
	t.Helper()
	out := make([]Frame, 0, len(frames))
	for i, ex := range frames {
		f, err := dec.Decode(ex.Data)
		if err != nil {
			t.Fatalf("frame %d (% X): %v", i, ex.Data, err)
		}
		out = append(out, f)
	}
	return out
}

func TestDecoderRecoversKeyAndMirrorsBlocks(t *testing.T) {
	if testing.Short() {
		t.Skip("state recovery is slow")
	}
	emu := newTraceEmulator(t)
	rec := emu.Record()
	rec.Select()
	if err := rec.Auth(4, mfclassic.KeyA, 0x11223344); err != nil {
		t.Fatalf("Auth returned error: %v", err)
	}
	if err := rec.Read(5); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if err := rec.Read(7); err != nil {
		t.Fatalf("Read trailer returned error: %v", err)
	}
	written := [mfclassic.BlockSize]byte{0x01, 0x02, 0x03, 0x04, 0x05}
	if err := rec.Write(6, written); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	dec := NewDecoder(nil, testUID, emu.ATQA(), emu.SAK())
	frames := decodeAll(t, dec, rec.Frames())

	authDone := frames[5]
	if !authDone.KeyFound {
		t.Fatalf("expected key after tag answer, state %s", authDone.State)
	}
	want := mfclassic.KeyFromUint64(0x4A6352684677)
	if authDone.Key != want || authDone.KeyType != mfclassic.KeyA || authDone.Block != 4 {
		t.Fatalf("unexpected key frame %+v", authDone)
	}

	img := dec.Image()
	if img.Key(4, mfclassic.KeyA) != want {
		t.Fatalf("key A not stored in trailer")
	}
	tr := img.Block(7)
	if [4]byte(tr[6:10]) != mfclassic.DefaultAccess {
		t.Fatalf("default access bytes not set: % X", tr[6:10])
	}
	if got := img.Block(5); got[0] != 0xDE || got[7] != 0x04 {
		t.Fatalf("read block not mirrored: % X", got)
	}
	if img.Key(4, mfclassic.KeyA) != want {
		t.Fatalf("trailer read overwrote the recovered key")
	}
	if img.Block(6) != written {
		t.Fatalf("written block not mirrored")
	}
	if !frames[6].Decrypted || frames[6].Data[0] != mfclassic.CmdRead {
		t.Fatalf("read command not decrypted: % X", frames[6].Data)
	}
	if dec.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", dec.State())
	}
	b0 := img.Block(0)
	if b0[4] != 0x9C^0x59^0x9B^0x32 || b0[5] != emu.SAK() {
		t.Fatalf("manufacturer block not bootstrapped: % X", b0)
	}
}

func TestDecoderKeyBAndHalt(t *testing.T) {
	if testing.Short() {
		t.Skip("state recovery is slow")
	}
	emu := newTraceEmulator(t)
	rec := emu.Record()
	if err := rec.Auth(5, mfclassic.KeyB, 0xCAFEBABE); err != nil {
		t.Fatalf("Auth returned error: %v", err)
	}
	rec.Halt()

	dec := NewDecoder(nil, testUID, emu.ATQA(), emu.SAK())
	frames := decodeAll(t, dec, rec.Frames())
	if got := dec.Image().Key(5, mfclassic.KeyB); got != mfclassic.KeyFromUint64(0xA0A1A2A3A4A5) {
		t.Fatalf("key B = %s", got)
	}
	if !dec.Image().Key(5, mfclassic.KeyA).IsZero() {
		t.Fatalf("key A slot written for key B auth")
	}
	if last := frames[len(frames)-1]; last.State != StateError {
		t.Fatalf("expected ERROR after halt, got %s", last.State)
	}
	if _, err := dec.Decode([]byte{0x30, 0x04}); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}

	dec.Reset()
	if dec.State() != StateIdle {
		t.Fatalf("expected IDLE after Reset")
	}
	if _, ok := dec.Live(); ok {
		t.Fatalf("live state kept after Reset")
	}
}

func TestDecryptWordMatchesLiveState(t *testing.T) {
	if testing.Short() {
		t.Skip("state recovery is slow")
	}
	emu := newTraceEmulator(t)
	rec := emu.Record()
	if err := rec.Auth(4, mfclassic.KeyA, 0x01020304); err != nil {
		t.Fatalf("Auth returned error: %v", err)
	}
	if err := rec.Read(5); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	fr := rec.Frames()
	nt := be32(fr[1].Data)
	arEnc := be32(fr[2].Data[4:8])
	atEnc := be32(fr[3].Data)

	plain, err := DecryptWord(nt, arEnc, atEnc, fr[4].Data)
	if err != nil {
		t.Fatalf("DecryptWord returned error: %v", err)
	}
	if string(plain) != string(mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 5})) {
		t.Fatalf("unexpected plaintext % X", plain)
	}
	again, err := DecryptWord(nt, arEnc, atEnc, fr[4].Data)
	if err != nil || string(again) != string(plain) {
		t.Fatalf("second decryption differs: % X %v", again, err)
	}

	dec := NewDecoder(nil, testUID, emu.ATQA(), emu.SAK())
	decodeAll(t, dec, fr[:4])
	live, ok := dec.Live()
	if !ok {
		t.Fatalf("no live state after authentication")
	}
	dec2 := NewDecoder(nil, testUID, emu.ATQA(), emu.SAK())
	decodeAll(t, dec2, fr[:4])
	live2, _ := dec2.Live()
	if !live.Equal(live2) {
		t.Fatalf("live state derivation not deterministic")
	}
}

func TestDecoderWrongLengthHalts(t *testing.T) {
	auth := mfclassic.AppendCRCA([]byte{mfclassic.CmdAuthA, 4})
	nt := []byte{0x01, 0x02, 0x03, 0x04}
	readerAnswer := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	read := mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 5})
	write := mfclassic.AppendCRCA([]byte{mfclassic.CmdWrite, 5})

	cases := []struct {
		name  string
		lead  [][]byte
		state State
		bad   []byte
	}{
		{"tag nonce", [][]byte{auth}, StateAuth1, []byte{1, 2, 3, 4, 5}},
		{"reader answer", [][]byte{auth, nt}, StateAuth2, []byte{1, 2, 3, 4}},
		{"tag answer", [][]byte{auth, nt, readerAnswer}, StateAuthOK, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{"read answer", [][]byte{read}, StateReadData, make([]byte, 16)},
		{"write ack", [][]byte{write}, StateWriteOK, []byte{mfclassic.ACK, 0x00}},
		{"write data", [][]byte{write, {mfclassic.ACK}}, StateWriteData, make([]byte, 17)},
	}
	for _, tc := range cases {
		dec := NewDecoder(nil, testUID, [2]byte{0x04, 0x00}, 0x08)
		for i, fr := range tc.lead {
			if _, err := dec.Decode(fr); err != nil {
				t.Fatalf("%s: frame %d returned error: %v", tc.name, i, err)
			}
		}
		if dec.State() != tc.state {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.state, dec.State())
		}

		f, err := dec.Decode(tc.bad)
		var fe *FrameError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected FrameError, got %v", tc.name, err)
		}
		if fe.State != tc.state || fe.Len != len(tc.bad) {
			t.Fatalf("%s: unexpected frame error %+v", tc.name, fe)
		}
		if f.State != StateError || dec.State() != StateError {
			t.Fatalf("%s: expected ERROR, got %s", tc.name, dec.State())
		}
		if _, err := dec.Decode(nt); !errors.Is(err, ErrHalted) {
			t.Fatalf("%s: expected ErrHalted, got %v", tc.name, err)
		}
		if _, err := dec.Decode(read); !errors.Is(err, ErrHalted) {
			t.Fatalf("%s: expected ErrHalted for a valid command, got %v", tc.name, err)
		}
	}
}

func TestDecoderWriteToTrailerCopiesWholeBlock(t *testing.T) {
	dec := NewDecoder(nil, testUID, [2]byte{0x04, 0x00}, 0x08)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(0xB0 + i)
	}
	for i, fr := range [][]byte{
		mfclassic.AppendCRCA([]byte{mfclassic.CmdWrite, 11}),
		{mfclassic.ACK},
		mfclassic.AppendCRCA(append([]byte(nil), data...)),
	} {
		if _, err := dec.Decode(fr); err != nil {
			t.Fatalf("frame %d returned error: %v", i, err)
		}
	}
	if got := dec.Image().Block(11); string(got[:]) != string(data) {
		t.Fatalf("trailer write must copy all 16 bytes: % X", got)
	}
	if dec.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", dec.State())
	}
}

func TestDecoderIdleTransitions(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  State
		err   bool
	}{
		{"read", mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 8}), StateReadData, false},
		{"write", mfclassic.AppendCRCA([]byte{mfclassic.CmdWrite, 8}), StateWriteOK, false},
		{"auth B", mfclassic.AppendCRCA([]byte{mfclassic.CmdAuthB, 8}), StateAuth1, false},
		{"halt", mfclassic.AppendCRCA([]byte{mfclassic.CmdHalt, 0x00}), StateError, false},
		{"unknown command", mfclassic.AppendCRCA([]byte{0x26, 0x00}), StateIdle, false},
		{"short frame", []byte{0x26}, StateIdle, false},
		{"bad crc", []byte{mfclassic.CmdRead, 8, 0x00, 0x00}, StateError, true},
		{"too long", make([]byte, MaxFrameLen+1), StateError, true},
	}
	for _, tc := range cases {
		dec := NewDecoder(nil, testUID, [2]byte{0x04, 0x00}, 0x08)
		f, err := dec.Decode(tc.frame)
		if (err != nil) != tc.err {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if f.State != tc.want || dec.State() != tc.want {
			t.Fatalf("%s: state %s want %s", tc.name, dec.State(), tc.want)
		}
	}
}

func TestDecoderPlainReadAndWrite(t *testing.T) {
	dec := NewDecoder(nil, testUID, [2]byte{0x04, 0x00}, 0x08)
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}

	steps := [][]byte{
		mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 7}),
		mfclassic.AppendCRCA(append([]byte(nil), data...)),
		mfclassic.AppendCRCA([]byte{mfclassic.CmdWrite, 9}),
		{mfclassic.ACK},
		mfclassic.AppendCRCA(append([]byte(nil), data...)),
	}
	for i, s := range steps {
		if _, err := dec.Decode(s); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	img := dec.Image()
	tr := img.Block(7)
	if tr[0] != 0 || tr[6] != 0xA6 || tr[9] != 0xA9 || tr[10] != 0 {
		t.Fatalf("trailer read must copy bytes 6-9 only: % X", tr)
	}
	if b := img.Block(9); b[0] != 0xA0 || b[15] != 0xAF {
		t.Fatalf("write not mirrored: % X", b)
	}

	if _, err := dec.Decode(mfclassic.AppendCRCA([]byte{mfclassic.CmdWrite, 9})); err != nil {
		t.Fatalf("write command: %v", err)
	}
	var fe *FrameError
	if _, err := dec.Decode([]byte{0x04}); !errors.As(err, &fe) || fe.State != StateWriteOK {
		t.Fatalf("expected NAK to fail in WRITE_OK, got %v", err)
	}
}
