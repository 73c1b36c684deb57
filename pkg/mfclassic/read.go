package mfclassic

import (
	"fmt"
	"log/slog"
)

// ReadBlock reads one 16-byte block with READ BINARY (FF B0).
// The sector must be authenticated first.
func ReadBlock(card Card, block uint8) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	apdu := []byte{0xFF, 0xB0, 0x00, block, BlockSize}
	data, sw, err := Transmit(card, apdu)
	if err != nil {
		return out, err
	}
	if !SwOK(sw) {
		return out, &SWError{Cmd: 0xB0, SW: sw}
	}
	if len(data) != BlockSize {
		return out, fmt.Errorf("read block %d: got %d bytes, want %d", block, len(data), BlockSize)
	}
	copy(out[:], data)
	return out, nil
}

// ReadSector authenticates the sector holding block with key and reads all its blocks into img.
// Trailer key bytes are replaced with the known key since cards never return key A.
//
// Returns the number of blocks read.
func ReadSector(card Card, img *Image, sector int, kt KeyType, key Key) (int, error) {
	first := FirstBlock(sector)
	if err := AuthenticateKey(card, first, kt, key); err != nil {
		return 0, err
	}

	n := 0
	for i := 0; i < BlocksInSector(sector); i++ {
		block := first + uint8(i)
		data, err := ReadBlock(card, block)
		if err != nil {
			slog.Warn("read failed", "block", block, "error", err)
			continue
		}
		img.SetBlock(block, data)
		n++
	}
	img.SetKey(first, kt, key)
	return n, nil
}
