package mfkey

import (
	"cmp"
	"errors"
	"slices"

	"github.com/barnettlynn/mfkey/pkg/crypto1"
	"github.com/barnettlynn/mfkey/pkg/mfclassic"
)

// ErrUnsorted is returned when an intersection runs on a list that is not
// sorted by the key that intersection compares.
var ErrUnsorted = errors.New("state list not sorted")

// StateList holds the candidate cipher states for one nested sample.
type StateList struct {
	Block   uint8
	KeyType mfclassic.KeyType
	UID     uint32
	NT      uint32
	KS1     uint32
	States  []crypto1.State
}

// NewStateList recovers every state consistent with one nested sample. The
// states are positioned after the nonce was clocked in.
func NewStateList(resp mfclassic.NonceResponse, sample int) *StateList {
	smp := resp.Samples[sample]
	return &StateList{
		Block:   resp.Block,
		KeyType: resp.KeyType,
		UID:     resp.UID,
		NT:      smp.NT,
		KS1:     smp.KS1,
		States:  crypto1.RecoverPartial(smp.KS1, smp.NT^resp.UID),
	}
}

// Fingerprint packs bits 16-23 of Even (high byte) and of Odd (low byte).
// After the nonce word both lists agree on these bits for the true key.
func Fingerprint(s crypto1.State) uint16 {
	return uint16(s.Even>>16&0xFF)<<8 | uint16(s.Odd>>16&0xFF)
}

// Value orders states by their full 48-bit content.
func Value(s crypto1.State) uint64 {
	return uint64(s.Even&0xFFFFFF)<<32 | uint64(s.Odd&0xFFFFFF)
}

func byFingerprint(a, b crypto1.State) int { return cmp.Compare(Fingerprint(a), Fingerprint(b)) }
func byValue(a, b crypto1.State) int       { return cmp.Compare(Value(a), Value(b)) }

// SortByFingerprint orders the list ascending by Fingerprint.
func (l *StateList) SortByFingerprint() { slices.SortFunc(l.States, byFingerprint) }

// SortByValue orders the list ascending by Value.
func (l *StateList) SortByValue() { slices.SortFunc(l.States, byValue) }

// Dedupe collapses equal neighbours; the list must be sorted by Value.
func (l *StateList) Dedupe() {
	l.States = slices.CompactFunc(l.States, func(a, b crypto1.State) bool { return Value(a) == Value(b) })
}

// Keys extracts the key of every state.
func (l *StateList) Keys() []mfclassic.Key {
	keys := make([]mfclassic.Key, len(l.States))
	for i, s := range l.States {
		keys[i] = mfclassic.KeyFromUint64(s.Key())
	}
	return keys
}

// IntersectFingerprint walks two fingerprint-sorted lists in lock step. Runs
// whose fingerprint appears in both lists are kept and every element is
// rolled back over its own list's nonce, which aligns both lists on the key
// load. All other elements are dropped. Both lists are truncated in place.
func IntersectFingerprint(a, b *StateList) error {
	if !slices.IsSortedFunc(a.States, byFingerprint) || !slices.IsSortedFunc(b.States, byFingerprint) {
		return ErrUnsorted
	}

	as, bs := a.States, b.States
	ina, inb := a.NT^a.UID, b.NT^b.UID
	i, j := 0, 0
	wa, wb := 0, 0
	for i < len(as) && j < len(bs) {
		fa, fb := Fingerprint(as[i]), Fingerprint(bs[j])
		switch {
		case fa < fb:
			i++
		case fa > fb:
			j++
		default:
			for ; i < len(as) && Fingerprint(as[i]) == fa; i++ {
				s := as[i]
				s.RollbackWord(ina, false)
				as[wa] = s
				wa++
			}
			for ; j < len(bs) && Fingerprint(bs[j]) == fb; j++ {
				s := bs[j]
				s.RollbackWord(inb, false)
				bs[wb] = s
				wb++
			}
		}
	}
	a.States = as[:wa]
	b.States = bs[:wb]
	return nil
}

// IntersectValue keeps in a only the states that also occur in b. Both
// lists must be sorted by Value; a is expected to be deduplicated.
func IntersectValue(a, b *StateList) error {
	if !slices.IsSortedFunc(a.States, byValue) || !slices.IsSortedFunc(b.States, byValue) {
		return ErrUnsorted
	}

	as, bs := a.States, b.States
	i, j, w := 0, 0, 0
	for i < len(as) && j < len(bs) {
		va, vb := Value(as[i]), Value(bs[j])
		switch {
		case va < vb:
			i++
		case va > vb:
			j++
		default:
			as[w] = as[i]
			w++
			i++
			j++
		}
	}
	a.States = as[:w]
	return nil
}
