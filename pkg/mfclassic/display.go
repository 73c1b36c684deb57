package mfclassic

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// AccessBits holds the C1 C2 C3 condition bits of the four block groups of a sector.
type AccessBits [4]byte

// ParseAccess decodes trailer bytes 6-8. ok is false when the inverted copies
// disagree with the plain bits.
func ParseAccess(trailer [BlockSize]byte) (AccessBits, bool) {
	var ab AccessBits
	b6, b7, b8 := trailer[6], trailer[7], trailer[8]
	for i := uint(0); i < 4; i++ {
		c1 := b7 >> (4 + i) & 1
		c2 := b8 >> i & 1
		c3 := b8 >> (4 + i) & 1
		ab[i] = c1<<2 | c2<<1 | c3
	}
	ok := b6&0x0F == ^(b7>>4)&0x0F && b6>>4 == ^b8&0x0F && b7&0x0F == ^(b8>>4)&0x0F
	return ab, ok
}

// accessLabel returns a human-readable label for the access condition of a data block group.
func accessLabel(c byte) string {
	switch c {
	case 0b000:
		return "read AB  write AB  (transport)"
	case 0b010:
		return "read AB  write never"
	case 0b100:
		return "read AB  write B"
	case 0b110:
		return "read AB  write B   (value block)"
	case 0b001:
		return "read AB  write never (value block)"
	case 0b011:
		return "read B   write B"
	case 0b101:
		return "read B   write never"
	default:
		return "never"
	}
}

// trailerLabel returns a human-readable label for the sector trailer condition.
func trailerLabel(c byte) string {
	switch c {
	case 0b000:
		return "keyA w:A  access r:A  keyB r/w:A"
	case 0b010:
		return "keyA w:-  access r:A  keyB r:A"
	case 0b100:
		return "keyA w:B  access r:AB keyB w:B"
	case 0b110:
		return "keyA w:-  access r:AB"
	case 0b001:
		return "keyA w:A  access r/w:A keyB r/w:A (transport)"
	case 0b011:
		return "keyA w:B  access r:AB w:B keyB w:B"
	case 0b101:
		return "keyA w:-  access r:AB w:B"
	default:
		return "keyA w:-  access r:AB (frozen)"
	}
}

// PrintSectorAccess prints the access conditions of one sector trailer.
func PrintSectorAccess(w io.Writer, sector int, trailer [BlockSize]byte) {
	ab, ok := ParseAccess(trailer)
	fmt.Fprintf(w, "  Sector %2d access:    [raw: %02X %02X %02X %02X]\n", sector, trailer[6], trailer[7], trailer[8], trailer[9])
	if !ok {
		fmt.Fprintln(w, "    invalid access bits (inverted copy mismatch)")
		return
	}
	// 16-block sectors map 5 blocks onto each group.
	for i := 0; i < 3; i++ {
		fmt.Fprintf(w, "    Group %d:  %s\n", i, accessLabel(ab[i]))
	}
	fmt.Fprintf(w, "    Trailer:  %s\n", trailerLabel(ab[3]))
}

// PrintImage prints all persisted blocks of img, marking sector trailers.
func PrintImage(w io.Writer, img *Image) {
	for i := 0; i < img.Blocks; i++ {
		b := img.Block(uint8(i))
		mark := ""
		if IsTrailer(uint8(i)) {
			mark = "  <- trailer"
		}
		fmt.Fprintf(w, "  %3d | %s%s\n", i, strings.ToUpper(hex.EncodeToString(b[:])), mark)
	}
}

// SectorKeys is the key sweep result for one sector.
type SectorKeys struct {
	Sector int
	A, B   Key
	HasA   bool
	HasB   bool
}

// PrintSectorKeys prints a sector key table.
func PrintSectorKeys(w io.Writer, keys []SectorKeys) {
	fmt.Fprintln(w, "  Sec | Key A         | Key B")
	fmt.Fprintln(w, "  ----+---------------+--------------")
	for _, k := range keys {
		a, b := "?", "?"
		if k.HasA {
			a = k.A.String()
		}
		if k.HasB {
			b = k.B.String()
		}
		fmt.Fprintf(w, "  %3d | %-13s | %s\n", k.Sector, a, b)
	}
}
