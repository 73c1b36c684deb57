package mftrace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

func TestSessionAutosaveAndReload(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(dir, true)
	if err := s.Open(testUID, [2]byte{0x04, 0x00}, 0x08); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s.ID().String() == "" {
		t.Fatalf("missing session id")
	}

	data := bytes.Repeat([]byte{0x5A}, 16)
	for _, fr := range [][]byte{
		mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 1}),
		mfclassic.AppendCRCA(append([]byte(nil), data...)),
	} {
		if _, err := s.Feed(fr); err != nil {
			t.Fatalf("Feed returned error: %v", err)
		}
	}

	path := filepath.Join(dir, "9C599B32.eml")
	if s.Path() != path {
		t.Fatalf("unexpected image path %q", s.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("image not autosaved: %v", err)
	}

	other := NewSession(dir, true)
	if err := other.Open(testUID, [2]byte{0x04, 0x00}, 0x08); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if b := other.Decoder().Image().Block(1); b[0] != 0x5A {
		t.Fatalf("existing image not loaded: % X", b)
	}
	if other.ID() == s.ID() {
		t.Fatalf("expected a fresh session id")
	}
}

func TestSessionWithoutAutosaveWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(dir, false)
	if err := s.Open(testUID, [2]byte{0x04, 0x00}, 0x08); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if s.Path() != "" {
		t.Fatalf("unexpected image path %q", s.Path())
	}
	data := bytes.Repeat([]byte{0x5A}, 16)
	for _, fr := range [][]byte{
		mfclassic.AppendCRCA([]byte{mfclassic.CmdRead, 1}),
		mfclassic.AppendCRCA(append([]byte(nil), data...)),
	} {
		if _, err := s.Feed(fr); err != nil {
			t.Fatalf("Feed returned error: %v", err)
		}
	}
	if b := s.Decoder().Image().Block(1); b[0] != 0x5A {
		t.Fatalf("read block not mirrored: % X", b)
	}
	if err := s.Open(testUID, [2]byte{0x04, 0x00}, 0x08); err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir returned error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files without autosave, found %s", entries[0].Name())
	}
}

func TestSessionOpenRejectsCorruptImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "9C599B32.eml")
	if err := os.WriteFile(path, []byte("0011\n00112233445566778899AABBCCDDEEFF\n"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	s := NewSession(dir, true)
	err := s.Open(testUID, [2]byte{0x04, 0x00}, 0x08)
	if !mfclassic.IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestSessionReselectResetsDecoder(t *testing.T) {
	s := NewSession(t.TempDir(), false)
	if _, err := s.Feed([]byte{0x26}); err == nil {
		t.Fatalf("expected error before Open")
	}
	if err := s.Open(testUID, [2]byte{0x04, 0x00}, 0x08); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	if _, err := s.Feed(mfclassic.AppendCRCA([]byte{mfclassic.CmdHalt, 0x00})); err != nil {
		t.Fatalf("halt returned error: %v", err)
	}
	if s.Decoder().State() != StateError {
		t.Fatalf("expected ERROR after halt")
	}

	sel := mfclassic.AppendCRCA([]byte{0x93, 0x70, 0x9C, 0x59, 0x9B, 0x32, 0x9C ^ 0x59 ^ 0x9B ^ 0x32})
	_, reselected, err := s.FeedExchange(mfclassic.Exchange{Dir: mfclassic.ReaderToCard, Data: sel})
	if err != nil || !reselected {
		t.Fatalf("expected reselect, got %v %v", reselected, err)
	}
	if s.Decoder().State() != StateIdle {
		t.Fatalf("expected IDLE after reselect")
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	emu := newTraceEmulator(t)
	rec := emu.Record()
	rec.Select()
	if err := rec.Auth(4, mfclassic.KeyA, 0x55555555); err != nil {
		t.Fatalf("Auth returned error: %v", err)
	}
	frames := rec.Frames()

	path := filepath.Join(t.TempDir(), "trace.pcap")
	start := time.Unix(1700000000, 0)
	if err := WriteCaptureFile(path, start, time.Millisecond, frames); err != nil {
		t.Fatalf("WriteCaptureFile returned error: %v", err)
	}
	got, err := ReadCaptureFile(path)
	if err != nil {
		t.Fatalf("ReadCaptureFile returned error: %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("expected %d records, got %d", len(frames), len(got))
	}
	for i := range frames {
		if got[i].Dir != frames[i].Dir || !bytes.Equal(got[i].Data, frames[i].Data) {
			t.Fatalf("record %d mismatch: %v % X", i, got[i].Dir, got[i].Data)
		}
	}
	if !got[1].Time.Equal(start.Add(time.Millisecond)) {
		t.Fatalf("unexpected timestamp %v", got[1].Time)
	}
}

func TestCaptureReaderRejectsOtherLinkTypes(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := NewCaptureReader(&buf); err == nil {
		t.Fatalf("expected link type error")
	}
}
