package mfclassic

// ISO 14443-3 / MIFARE Classic command bytes seen on the air interface.
const (
	CmdAuthA = 0x60
	CmdAuthB = 0x61
	CmdRead  = 0x30
	CmdWrite = 0xA0
	CmdHalt  = 0x50
	CmdSel1  = 0x93

	// ACK is the 4-bit acknowledge nibble sent by the card.
	ACK = 0x0A
)

const (
	BlockSize = 16
	MaxBlocks = 256 // MIFARE Classic 4K
	Blocks1K  = 64
	Blocks4K  = MaxBlocks

	// Blocks below smallSectorEnd live in 4-block sectors; above it in 16-block sectors.
	smallSectorEnd = 128
)

// DefaultAccess is the transport configuration access condition (bytes 6-9 of a trailer).
var DefaultAccess = [4]byte{0x08, 0x77, 0x8F, 0x00}

// IsTrailer reports whether block is the last block of its sector.
func IsTrailer(block uint8) bool {
	if block < smallSectorEnd {
		return block&0x03 == 0x03
	}
	return block&0x0F == 0x0F
}

// TrailerOf returns the sector trailer block of the sector holding block.
func TrailerOf(block uint8) uint8 {
	if block < smallSectorEnd {
		return block | 0x03
	}
	return block | 0x0F
}

// SectorOf returns the sector number for block.
func SectorOf(block uint8) int {
	if block < smallSectorEnd {
		return int(block) / 4
	}
	return 32 + (int(block)-smallSectorEnd)/16
}

// FirstBlock returns the first block of sector.
func FirstBlock(sector int) uint8 {
	if sector < 32 {
		return uint8(sector * 4)
	}
	return uint8(smallSectorEnd + (sector-32)*16)
}

// BlocksInSector returns the number of blocks in sector.
func BlocksInSector(sector int) int {
	if sector < 32 {
		return 4
	}
	return 16
}

// SectorCount returns the number of sectors covering blocks.
func SectorCount(blocks int) int {
	if blocks <= smallSectorEnd {
		return blocks / 4
	}
	return 32 + (blocks-smallSectorEnd)/16
}

// UIDToCUID folds a 4, 7 or 10 byte UID into the 32-bit value used by the
// cipher: the last four bytes, big-endian.
func UIDToCUID(uid []byte) uint32 {
	var v uint32
	start := len(uid) - 4
	if start < 0 {
		start = 0
	}
	for _, b := range uid[start:] {
		v = v<<8 | uint32(b)
	}
	return v
}
