package mfclassic

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// KeySize is the length of a MIFARE Classic key in bytes.
const KeySize = 6

// Key is a 48-bit MIFARE Classic key, most significant byte first.
type Key [KeySize]byte

// KeyFromUint64 converts the low 48 bits of v into a Key.
func KeyFromUint64(v uint64) Key {
	var k Key
	for i := KeySize - 1; i >= 0; i-- {
		k[i] = byte(v)
		v >>= 8
	}
	return k
}

// Uint64 returns the key as a 48-bit number.
func (k Key) Uint64() uint64 {
	var v uint64
	for _, b := range k {
		v = v<<8 | uint64(b)
	}
	return v
}

func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// IsZero reports whether every key byte is zero.
func (k Key) IsZero() bool {
	return k == Key{}
}

// ParseKey parses 12 hex characters into a Key.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != 2*KeySize {
		return k, fmt.Errorf("key must be %d hex chars, got %d", 2*KeySize, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid hex key: %v", err)
	}
	copy(k[:], b)
	return k, nil
}

// KeyType selects the A or B key slot of a sector.
type KeyType uint8

const (
	KeyA KeyType = 0
	KeyB KeyType = 1
)

// AuthCommand returns the ISO 14443-3 authentication command byte (0x60/0x61).
func (t KeyType) AuthCommand() byte {
	if t == KeyB {
		return CmdAuthB
	}
	return CmdAuthA
}

func (t KeyType) String() string {
	if t == KeyB {
		return "B"
	}
	return "A"
}

// ParseKeyType accepts "A"/"B" (any case) or "0"/"1".
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "0":
		return KeyA, nil
	case "B", "1":
		return KeyB, nil
	}
	return KeyA, fmt.Errorf("invalid key type %q (want A or B)", s)
}

// LoadKeyHexFile loads a single key from a file containing one line of 12 hex characters.
func LoadKeyHexFile(path string) (Key, error) {
	keys, err := LoadKeyList(path)
	if err != nil {
		return Key{}, err
	}
	if len(keys) == 0 {
		return Key{}, errors.New("key file is empty")
	}
	return keys[0], nil
}

// LoadKeyList loads a dictionary file: one key per line, blank lines and
// lines starting with '#' are skipped.
func LoadKeyList(path string) ([]Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadKeyList(f)
}

// ReadKeyList parses a key dictionary from r.
func ReadKeyList(r io.Reader) ([]Key, error) {
	var keys []Key
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, err := ParseKey(text)
		if err != nil {
			return nil, &FormatError{Line: line, Reason: err.Error()}
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
