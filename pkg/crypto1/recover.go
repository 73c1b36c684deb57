package crypto1

import "slices"

// tableSize bounds the odd/even candidate tables used by RecoverPartial.
// Extensions grow a table in place past the current tail, so it needs room
// for twice the 2^20 seeds.
const tableSize = 1<<21 + 2

// table is a candidate table addressed by indices. Entries carry the 24-bit
// half-state in the low bits and partial feedback contributions in the top byte.
type table []uint32

// RecoverPartial returns every state that produces the 32-bit keystream ks
// while the word in is fed into the LFSR. The returned states are positioned
// after those 32 clocks; RollbackWord(in, false) takes them back to the state
// before the word. Order is unspecified.
func RecoverPartial(ks, in uint32) []State {
	var oks, eks uint32
	for i := 31; i >= 0; i -= 2 {
		oks = oks<<1 | bebit(ks, uint(i))
	}
	for i := 30; i >= 0; i -= 2 {
		eks = eks<<1 | bebit(ks, uint(i))
	}

	odd := make(table, tableSize)
	even := make(table, tableSize)
	oddTail, evenTail := -1, -1
	for i := 1 << 20; i >= 0; i-- {
		if uint32(filter(uint32(i))) == oks&1 {
			oddTail++
			odd[oddTail] = uint32(i)
		}
		if uint32(filter(uint32(i))) == eks&1 {
			evenTail++
			even[evenTail] = uint32(i)
		}
	}

	for i := 0; i < 4; i++ {
		oks >>= 1
		eks >>= 1
		oddTail = odd.extendSimple(0, oddTail, byte(oks&1))
		evenTail = even.extendSimple(0, evenTail, byte(eks&1))
	}

	in = (in >> 16 & 0xff) | (in << 16) | (in & 0xff00)
	r := &recovery{odd: odd, even: even}
	r.recover(0, oddTail, oks, 0, evenTail, eks, 11, in<<1)
	return r.out
}

// RecoverFull returns the state that produced ks2 followed by ks3 with no
// input, positioned after the 64 clocks. ok is false when no state matches.
func RecoverFull(ks2, ks3 uint32) (State, bool) {
	for _, s := range RecoverPartial(ks2, 0) {
		next := s
		if next.Word(0, false) == ks3 {
			return next, true
		}
	}
	return State{}, false
}

type recovery struct {
	odd  table
	even table
	out  []State
}

// recover narrows the odd and even tables four keystream bits at a time and
// pairs up entries whose feedback contributions agree.
func (r *recovery) recover(oHead, oTail int, oks uint32, eHead, eTail int, eks uint32, rem int, in uint32) {
	if rem == -1 {
		for e := eHead; e <= eTail; e++ {
			v := r.even[e]<<1 ^ parity(r.even[e]&polyEven)
			if in&4 != 0 {
				v ^= 1
			}
			r.even[e] = v
			for o := oHead; o <= oTail; o++ {
				r.out = append(r.out, State{
					Even: r.odd[o] & mask24,
					Odd:  (v ^ parity(r.odd[o]&polyOdd)) & mask24,
				})
			}
		}
		return
	}

	for i := 0; i < 4; i++ {
		if rem == 0 {
			rem = -1
			break
		}
		rem--
		oks >>= 1
		eks >>= 1
		in >>= 2
		oTail = r.odd.extend(oHead, oTail, byte(oks&1), polyEven<<1|1, polyOdd<<1, 0)
		if oHead > oTail {
			return
		}
		eTail = r.even.extend(eHead, eTail, byte(eks&1), polyOdd, polyEven<<1|1, in&3)
		if eHead > eTail {
			return
		}
	}

	slices.Sort(r.odd[oHead : oTail+1])
	slices.Sort(r.even[eHead : eTail+1])

	for oTail >= oHead && eTail >= eHead {
		switch {
		case (r.odd[oTail]^r.even[eTail])>>24 == 0:
			o, e := oTail, eTail
			oTail = r.odd.groupStart(oHead, o)
			eTail = r.even.groupStart(eHead, e)
			r.recover(oTail, o, oks, eTail, e, eks, rem, in)
			oTail--
			eTail--
		case r.odd[oTail] > r.even[eTail]:
			oTail = r.odd.groupStart(oHead, oTail) - 1
		default:
			eTail = r.even.groupStart(eHead, eTail) - 1
		}
	}
}

// groupStart finds the first entry in the sorted range [start, stop] sharing
// the contribution byte of t[stop].
func (t table) groupStart(start, stop int) int {
	val := t[stop] & 0xff000000
	for start != stop {
		mid := (stop - start) >> 1
		if t[start+mid] > val {
			stop = start + mid
		} else {
			start += mid + 1
		}
	}
	return start
}

// extendSimple extends every entry of [head, tail] by one bit consistent with
// the keystream bit and returns the new tail.
func (t table) extendSimple(head, tail int, ks byte) int {
	i := head
	t[i] <<= 1
	for i <= tail {
		v := t[i]
		switch {
		case filter(v)^filter(v|1) != 0:
			t[i] |= uint32(filter(v) ^ ks)
		case filter(v) == ks:
			tail++
			i++
			t[tail] = t[i]
			t[i] = t[i-1] | 1
		default:
			t[i] = t[tail]
			tail--
			i--
		}
		i++
		if i < len(t) {
			t[i] <<= 1
		}
	}
	return tail
}

// extend is extendSimple plus bookkeeping of the feedback contributions
// selected by m1 and m2 and the input bits in.
func (t table) extend(head, tail int, ks byte, m1, m2, in uint32) int {
	in <<= 24
	i := head
	t[i] <<= 1
	for i <= tail {
		v := t[i]
		switch {
		case filter(v)^filter(v|1) != 0:
			t[i] |= uint32(filter(v) ^ ks)
			t[i] = contribution(t[i], m1, m2)
			t[i] ^= in
		case filter(v) == ks:
			tail++
			t[tail] = t[i+1]
			t[i+1] = t[i] | 1
			t[i] = contribution(t[i], m1, m2)
			t[i] ^= in
			i++
			t[i] = contribution(t[i], m1, m2)
			t[i] ^= in
		default:
			t[i] = t[tail]
			tail--
			i--
		}
		i++
		if i < len(t) {
			t[i] <<= 1
		}
	}
	return tail
}

// contribution shifts two partial feedback parities into the top byte of v.
func contribution(v, m1, m2 uint32) uint32 {
	p := v >> 25
	p = p<<1 | parity(v&m1)
	p = p<<1 | parity(v&m2)
	return p<<24 | v&mask24
}
