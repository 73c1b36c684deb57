package mfclassic

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Image mirrors the block storage of one card.
type Image struct {
	data [MaxBlocks][BlockSize]byte

	// Blocks is the number of blocks persisted by Save.
	Blocks int
}

// NewImage returns an empty image persisting blocks blocks (64 for 1K, 256 for 4K).
func NewImage(blocks int) *Image {
	if blocks <= 0 || blocks > MaxBlocks {
		blocks = Blocks1K
	}
	return &Image{Blocks: blocks}
}

// Block returns a copy of block n.
func (m *Image) Block(n uint8) [BlockSize]byte {
	return m.data[n]
}

// SetBlock replaces block n.
func (m *Image) SetBlock(n uint8, b [BlockSize]byte) {
	m.data[n] = b
}

// Slice returns a writable view of block n.
func (m *Image) Slice(n uint8) []byte {
	return m.data[n][:]
}

// IsEmpty reports whether the manufacturer block has not been filled in yet.
func (m *Image) IsEmpty() bool {
	b := m.data[0]
	return b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0
}

// SetManufacturerBlock writes UID, BCC, SAK and ATQA into block 0. Only
// 4-byte UIDs fit the layout; other lengths leave block 0 untouched.
func (m *Image) SetManufacturerBlock(uid []byte, atqa [2]byte, sak byte) bool {
	if len(uid) != 4 {
		return false
	}
	b := &m.data[0]
	copy(b[0:4], uid)
	b[4] = uid[0] ^ uid[1] ^ uid[2] ^ uid[3]
	b[5] = sak
	b[6] = atqa[0]
	b[7] = atqa[1]
	return true
}

// SetKey stores key into the A or B slot of the trailer for block.
func (m *Image) SetKey(block uint8, kt KeyType, key Key) {
	tr := &m.data[TrailerOf(block)]
	if kt == KeyB {
		copy(tr[10:16], key[:])
	} else {
		copy(tr[0:6], key[:])
	}
}

// Key returns the A or B key stored in the trailer for block.
func (m *Image) Key(block uint8, kt KeyType) Key {
	var k Key
	tr := m.data[TrailerOf(block)]
	if kt == KeyB {
		copy(k[:], tr[10:16])
	} else {
		copy(k[:], tr[0:6])
	}
	return k
}

// EnsureAccess writes DefaultAccess into the trailer for block when its
// access bytes are still all zero.
func (m *Image) EnsureAccess(block uint8) {
	tr := &m.data[TrailerOf(block)]
	if tr[6] == 0 && tr[7] == 0 && tr[8] == 0 && tr[9] == 0 {
		copy(tr[6:10], DefaultAccess[:])
	}
}

// Save writes the image in .eml format: one 32 hex character line per block.
func (m *Image) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i := 0; i < m.Blocks; i++ {
		if _, err := fmt.Fprintf(bw, "%s\n", strings.ToUpper(hex.EncodeToString(m.data[i][:]))); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads an .eml image. Lines must carry at least 32 hex characters; a
// short final line is treated as end of data. The image is only modified when
// the whole input parses.
func (m *Image) Load(r io.Reader) error {
	var data [MaxBlocks][BlockSize]byte
	n := 0

	br := bufio.NewReader(r)
	line := 0
	for {
		text, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		eof := readErr == io.EOF
		line++
		text = strings.TrimRight(text, "\r\n")

		if len(text) < 2*BlockSize {
			if eof {
				break
			}
			return &FormatError{Line: line, Reason: fmt.Sprintf("want %d hex chars, got %d", 2*BlockSize, len(text))}
		}
		if n >= MaxBlocks {
			return &FormatError{Line: line, Reason: fmt.Sprintf("more than %d blocks", MaxBlocks)}
		}
		if _, err := hex.Decode(data[n][:], []byte(text[:2*BlockSize])); err != nil {
			return &FormatError{Line: line, Reason: err.Error()}
		}
		n++
		if eof {
			break
		}
	}

	copy(m.data[:n], data[:n])
	if n > m.Blocks {
		m.Blocks = n
	}
	return nil
}

// SaveFile writes the image to path.
func (m *Image) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads an .eml image from path.
func (m *Image) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := m.Load(f); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ImagePath returns the .eml file name for a UID inside dir.
func ImagePath(dir string, uid []byte) string {
	return filepath.Join(dir, strings.ToUpper(hex.EncodeToString(uid))+".eml")
}
