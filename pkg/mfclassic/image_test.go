package mfclassic

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImageSaveLoadFile(t *testing.T) {
	img := NewImage(Blocks1K)
	img.SetManufacturerBlock([]byte{0xDE, 0xAD, 0xBE, 0xEF}, [2]byte{0x04, 0x00}, 0x08)
	img.SetKey(5, KeyB, KeyFromUint64(0xA0A1A2A3A4A5))
	img.EnsureAccess(5)

	path := ImagePath(t.TempDir(), []byte{0xDE, 0xAD, 0xBE, 0xEF})
	if filepath.Base(path) != "DEADBEEF.eml" {
		t.Fatalf("unexpected image file name %q", filepath.Base(path))
	}
	if err := img.SaveFile(path); err != nil {
		t.Fatalf("SaveFile returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
	if len(lines) != Blocks1K {
		t.Fatalf("expected %d lines, got %d", Blocks1K, len(lines))
	}
	if lines[0] != "DEADBEEF220804000000000000000000" {
		t.Fatalf("unexpected block 0 line %q", lines[0])
	}
	if lines[7] != "00000000000008778F00A0A1A2A3A4A5" {
		t.Fatalf("unexpected trailer line %q", lines[7])
	}

	loaded := NewImage(Blocks1K)
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	for i := 0; i < Blocks1K; i++ {
		if loaded.Block(uint8(i)) != img.Block(uint8(i)) {
			t.Fatalf("block %d differs after reload", i)
		}
	}
	if got := loaded.Key(6, KeyB); got != KeyFromUint64(0xA0A1A2A3A4A5) {
		t.Fatalf("unexpected key B %s", got)
	}
}

func TestImageLoadRejectsShortLineWithoutMutation(t *testing.T) {
	img := NewImage(Blocks1K)
	img.SetBlock(1, [BlockSize]byte{1, 2, 3})
	before := img.Block(1)

	in := "00112233445566778899AABBCCDDEEFF\nFFEEDDCC\n00112233445566778899AABBCCDDEEFF\n"
	err := img.Load(strings.NewReader(in))
	if err == nil {
		t.Fatalf("expected error for short line")
	}
	if !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %T: %v", err, err)
	}
	if img.Block(1) != before || img.Block(0) != ([BlockSize]byte{}) {
		t.Fatalf("image mutated by failed load")
	}
}

func TestImageLoadRejectsBadHex(t *testing.T) {
	img := NewImage(Blocks1K)
	err := img.Load(strings.NewReader("ZZ112233445566778899AABBCCDDEEFF\n"))
	if !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestImageLoadShortFinalLineIsEOF(t *testing.T) {
	img := NewImage(Blocks1K)
	in := "00112233445566778899AABBCCDDEEFF\r\nFFEEDDCCBBAA99887766554433221100\n"
	if err := img.Load(strings.NewReader(in)); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if img.Block(1)[0] != 0xFF {
		t.Fatalf("block 1 not loaded")
	}

	var buf bytes.Buffer
	if err := img.Save(&buf); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "00112233445566778899AABBCCDDEEFF\nFFEEDDCCBBAA99887766554433221100\n") {
		t.Fatalf("unexpected saved content %q", buf.String()[:66])
	}
}

func TestImageLoadGrowsTo4K(t *testing.T) {
	var b strings.Builder
	for i := 0; i < Blocks4K; i++ {
		b.WriteString("00000000000000000000000000000000\n")
	}
	img := NewImage(Blocks1K)
	if err := img.Load(strings.NewReader(b.String())); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if img.Blocks != Blocks4K {
		t.Fatalf("expected %d blocks, got %d", Blocks4K, img.Blocks)
	}
}

func TestManufacturerBlockOnlyFor4ByteUID(t *testing.T) {
	img := NewImage(Blocks1K)
	if img.SetManufacturerBlock([]byte{1, 2, 3, 4, 5, 6, 7}, [2]byte{0x44, 0x00}, 0x08) {
		t.Fatalf("expected 7-byte UID to be rejected")
	}
	if !img.IsEmpty() {
		t.Fatalf("block 0 written for 7-byte UID")
	}
}
