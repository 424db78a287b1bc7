package bytesutil

import (
	"bytes"
	"testing"
)

func TestRandomLengthAndVariety(t *testing.T) {
	a, err := Random(32)
	if err != nil {
		t.Fatalf("Random failed: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(a))
	}
	b, _ := Random(32)
	if bytes.Equal(a, b) {
		t.Error("two random draws should differ")
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, v)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("same"), []byte("same")) {
		t.Error("equal slices should compare equal")
	}
	if ConstantTimeEqual([]byte("same"), []byte("diff")) {
		t.Error("different slices should not compare equal")
	}
	if ConstantTimeEqual([]byte("short"), []byte("longer")) {
		t.Error("different lengths should not compare equal")
	}
	if !ConstantTimeEqual(nil, nil) {
		t.Error("two empty slices should compare equal")
	}
}

func TestB64RoundTrip(t *testing.T) {
	in := []byte{0x00, 0xff, 0x10, 0x80}
	out, err := DecodeB64(EncodeB64(in))
	if err != nil {
		t.Fatalf("DecodeB64 failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("round trip mismatch: %x != %x", in, out)
	}
	if _, err := DecodeB64("not base64!!!"); err == nil {
		t.Error("expected error decoding invalid input")
	}
}

func TestHexRoundTrip(t *testing.T) {
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	if EncodeHex(in) != "deadbeef" {
		t.Errorf("unexpected hex encoding %q", EncodeHex(in))
	}
	out, err := DecodeHex("deadbeef")
	if err != nil {
		t.Fatalf("DecodeHex failed: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("round trip mismatch: %x != %x", in, out)
	}
}
