/*
Package crypto1 implements the Crypto-1 stream cipher used by MIFARE Classic
cards, together with the state-recovery helpers needed for key recovery.

# State Layout

The 48-bit LFSR is stored as two 24-bit halves. Odd holds the bits at odd
LFSR positions, Even the bits at even positions. Every clock shifts a new bit
into Even and then swaps the halves, so the freshest bit always sits at bit 0
and the oldest bits at bit 23.

	LFSR:  x0 x1 x2 x3 ... x46 x47
	Odd:   x1 x3 x5 ... x47   (24 bits)
	Even:  x0 x2 x4 ... x46   (24 bits)

# Key Loading

A 48-bit key is the LFSR content at power-up. New and Key convert between the
key number (most significant byte first, as printed by readers) and State.

# Word Bit Order

Word, RollbackWord and RecoverPartial process 32-bit words in the card's
transmission order: byte 0 first, least significant bit of each byte first.
*/
package crypto1

import "math/bits"

const (
	// LFSR feedback taps split over the two halves.
	polyOdd  = 0x29CE5C
	polyEven = 0x870804

	mask24 = 0xFFFFFF
)

// State is the 48-bit Crypto-1 LFSR.
type State struct {
	Odd  uint32
	Even uint32
}

// New loads a 48-bit key into a fresh cipher state.
func New(key uint64) State {
	var s State
	for i := 47; i > 0; i -= 2 {
		s.Odd = s.Odd<<1 | uint32(bit64(key, uint(i-1)^7))
		s.Even = s.Even<<1 | uint32(bit64(key, uint(i)^7))
	}
	return s
}

// Key extracts the 48-bit LFSR content as a key number.
func (s State) Key() uint64 {
	var k uint64
	for i := 23; i >= 0; i-- {
		k = k<<1 | uint64(bit(s.Odd, uint(i)^3))
		k = k<<1 | uint64(bit(s.Even, uint(i)^3))
	}
	return k
}

// Masked returns s with both halves reduced to 24 bits.
func (s State) Masked() State {
	return State{Odd: s.Odd & mask24, Even: s.Even & mask24}
}

// Equal reports whether both halves match.
func (s State) Equal(o State) bool {
	return s.Masked() == o.Masked()
}

// Bit clocks the cipher once and returns the keystream bit.
// When encrypted is set, the keystream bit is fed back together with in,
// which turns an encrypted input bit into its plaintext before feedback.
func (s *State) Bit(in byte, encrypted bool) byte {
	ret := filter(s.Odd)

	feed := uint32(0)
	if encrypted {
		feed = uint32(ret)
	}
	if in != 0 {
		feed ^= 1
	}
	feed ^= polyOdd & s.Odd
	feed ^= polyEven & s.Even
	s.Even = (s.Even<<1 | parity(feed)) & mask24

	s.Odd, s.Even = s.Even, s.Odd
	return ret
}

// Byte clocks the cipher eight times, feeding in least significant bit first.
func (s *State) Byte(in byte, encrypted bool) byte {
	var ret byte
	for i := uint(0); i < 8; i++ {
		ret |= s.Bit((in>>i)&1, encrypted) << i
	}
	return ret
}

// Word clocks the cipher 32 times in transmission bit order.
func (s *State) Word(in uint32, encrypted bool) uint32 {
	var ret uint32
	for i := uint(0); i < 32; i++ {
		ret |= uint32(s.Bit(byte(bebit(in, i)), encrypted)) << (i ^ 24)
	}
	return ret
}

// RollbackBit undoes one clock. fb mirrors the encrypted flag used going forward.
func (s *State) RollbackBit(in byte, fb bool) byte {
	s.Odd &= mask24
	s.Odd, s.Even = s.Even, s.Odd

	out := s.Even & 1
	s.Even >>= 1
	out ^= polyEven & s.Even
	out ^= polyOdd & s.Odd
	if in != 0 {
		out ^= 1
	}
	ret := filter(s.Odd)
	if fb {
		out ^= uint32(ret)
	}

	s.Even |= parity(out) << 23
	return ret
}

// RollbackWord undoes 32 clocks that consumed in.
func (s *State) RollbackWord(in uint32, fb bool) uint32 {
	var ret uint32
	for i := 31; i >= 0; i-- {
		ret |= uint32(s.RollbackBit(byte(bebit(in, uint(i))), fb)) << (uint(i) ^ 24)
	}
	return ret
}

// PRNGSuccessor advances the card's 16-bit LFSR nonce generator n steps.
func PRNGSuccessor(x, n uint32) uint32 {
	x = bits.ReverseBytes32(x)
	for ; n > 0; n-- {
		x = x>>1 | (x>>16^x>>18^x>>19^x>>21)<<31
	}
	return bits.ReverseBytes32(x)
}

// filter is the non-linear output function over the 20 low bits of Odd.
func filter(x uint32) byte {
	var f uint32
	f = 0xf22c0 >> (x & 0xf) & 16
	f |= 0x6c9c0 >> (x >> 4 & 0xf) & 8
	f |= 0x3c8b0 >> (x >> 8 & 0xf) & 4
	f |= 0x1e458 >> (x >> 12 & 0xf) & 2
	f |= 0x0d938 >> (x >> 16 & 0xf) & 1
	return byte(uint32(0xEC57E80A) >> f & 1)
}

func parity(x uint32) uint32 {
	return uint32(bits.OnesCount32(x) & 1)
}

func bit(x uint32, n uint) uint32 {
	return x >> n & 1
}

func bit64(x uint64, n uint) uint64 {
	return x >> n & 1
}

// bebit addresses bit n of a word in transmission order.
func bebit(x uint32, n uint) uint32 {
	return bit(x, n^24)
}
