package mfclassic

// CRCA computes the ISO 14443-3 type A CRC (initial value 0x6363, reflected
// polynomial 0x8408).
func CRCA(data []byte) uint16 {
	crc := uint16(0x6363)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = crc>>8 ^ uint16(b)<<8 ^ uint16(b)<<3 ^ uint16(b)>>4
	}
	return crc
}

// AppendCRCA appends the CRC of data, least significant byte first.
func AppendCRCA(data []byte) []byte {
	crc := CRCA(data)
	return append(data, byte(crc), byte(crc>>8))
}

// CheckCRCA reports whether the last two bytes of frame are a valid CRC over the rest.
func CheckCRCA(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	n := len(frame) - 2
	crc := CRCA(frame[:n])
	return frame[n] == byte(crc) && frame[n+1] == byte(crc>>8)
}
