package memory

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestParseWord(t *testing.T) {
	tests := map[string]uint64{
		"0xdeadbeefcafebabe": 0xdeadbeefcafebabe,
		"0XDEADBEEFCAFEBABE": 0xdeadbeefcafebabe,
		"ff":                 0xff,
		" 0x1 ":              1,
		"0000000000000001":   1,
	}

	for s, exp := range tests {
		w, err := ParseWord(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}

		if w != exp {
			t.Fatalf("%q: expected 0x%x - got 0x%x", s, exp, w)
		}
	}
}

func TestParseWord_Invalid(t *testing.T) {
	for _, s := range []string{"", "0x", "0x10000000000000000", "xyz", "-1"} {
		_, err := ParseWord(s)
		if err == nil {
			t.Fatalf("expected an error for %q", s)
		}
	}
}

func TestWordCodec_LittleEndian(t *testing.T) {
	c, err := CodecFor(binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{0xef, 0xbe, 0xad, 0xde, 0x00, 0x00, 0x00, 0x00}
	p := c.Bytes(0xdeadbeef)
	if !bytes.Equal(p, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, p)
	}

	w, err := c.Word(p)
	if err != nil {
		t.Fatal(err)
	}

	if w != 0xdeadbeef {
		t.Fatalf("expected 0xdeadbeef - got 0x%x", w)
	}

	if c.HexString(0xdeadbeef) != "0xefbeadde00000000" {
		t.Fatalf("expected 0xefbeadde00000000 - got %s", c.HexString(0xdeadbeef))
	}
}

func TestWordCodec_BigEndian(t *testing.T) {
	c, err := CodecFor(binary.BigEndian)
	if err != nil {
		t.Fatal(err)
	}

	exp := []byte{0x00, 0x00, 0x00, 0x00, 0xde, 0xad, 0xbe, 0xef}
	p := c.Bytes(0xdeadbeef)
	if !bytes.Equal(p, exp) {
		t.Fatalf("expected 0x%x - got 0x%x", exp, p)
	}
}

func TestWordCodec_ShortInput(t *testing.T) {
	_, err := WordCodec{}.Word([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected an error for a short input")
	}
}

func TestCodecFor_NilByteOrder(t *testing.T) {
	_, err := CodecFor(nil)
	if err == nil {
		t.Fatal("expected an error for a nil byte order")
	}
}
