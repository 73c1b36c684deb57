package mfclassic

import "testing"

func TestCRCACheckValue(t *testing.T) {
	if got := CRCA([]byte("123456789")); got != 0xBF05 {
		t.Fatalf("CRCA check value = %04X, want BF05", got)
	}
}

func TestAppendCRCAKnownFrames(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"halt", []byte{0x50, 0x00}, []byte{0x50, 0x00, 0x57, 0xCD}},
		{"read block 0", []byte{0x30, 0x00}, []byte{0x30, 0x00, 0x02, 0xA8}},
	}
	for _, tc := range cases {
		got := AppendCRCA(append([]byte(nil), tc.in...))
		if string(got) != string(tc.want) {
			t.Fatalf("%s: got % X want % X", tc.name, got, tc.want)
		}
		if !CheckCRCA(got) {
			t.Fatalf("%s: CheckCRCA rejected a valid frame", tc.name)
		}
	}
}

func TestCheckCRCARejectsCorruption(t *testing.T) {
	frame := AppendCRCA([]byte{0x60, 0x04})
	frame[1] ^= 0x01
	if CheckCRCA(frame) {
		t.Fatalf("expected CRC failure for corrupted frame")
	}
	if CheckCRCA([]byte{0x01, 0x02}) {
		t.Fatalf("expected CRC failure for frame without payload")
	}
}
