package memory

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// WordSize is the size of a target word in bytes.
const WordSize = 8

// ParseWordOrExit calls ParseWord, invoking DefaultExitFn on error.
func ParseWordOrExit(s string) uint64 {
	w, err := ParseWord(s)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to parse word - %w", err))
	}
	return w
}

// ParseWord parses a hex string, with or without a "0x" prefix, as
// a 64-bit word.
func ParseWord(s string) (uint64, error) {
	noPrefix := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")

	strLen := len(noPrefix)
	if strLen == 0 {
		return 0, fmt.Errorf("hex string cannot be zero-length")
	}

	maxLen := WordSize * 2
	if strLen > maxLen {
		return 0, fmt.Errorf("hex string cannot be longer than %d chars - it is %d chars long",
			maxLen, strLen)
	}

	w, err := strconv.ParseUint(noPrefix, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to hex decode %q - %w", s, err)
	}

	return w, nil
}

// FormatWord formats w as a zero-padded hex string.
func FormatWord(w uint64) string {
	return fmt.Sprintf("0x%016x", w)
}

// NativeCodec returns a WordCodec for the byte order of this system.
// A traced process always shares the tracer's byte order.
func NativeCodec() WordCodec {
	return WordCodec{byteOrder: binary.NativeEndian}
}

func CodecForOrExit(byteOrder binary.ByteOrder) WordCodec {
	c, err := CodecFor(byteOrder)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to create word codec - %w", err))
	}
	return c
}

func CodecFor(byteOrder binary.ByteOrder) (WordCodec, error) {
	if byteOrder == nil {
		return WordCodec{}, fmt.Errorf("byte order cannot be nil")
	}

	return WordCodec{byteOrder: byteOrder}, nil
}

// WordCodec converts words to and from their in-memory representation.
// The zero value uses the native byte order.
type WordCodec struct {
	byteOrder binary.ByteOrder
}

func (o WordCodec) ByteOrder() binary.ByteOrder {
	if o.byteOrder == nil {
		return binary.NativeEndian
	}
	return o.byteOrder
}

// Bytes returns w as it is stored in memory.
func (o WordCodec) Bytes(w uint64) []byte {
	out := make([]byte, WordSize)
	o.ByteOrder().PutUint64(out, w)
	return out
}

// Word decodes the first WordSize bytes of p.
func (o WordCodec) Word(p []byte) (uint64, error) {
	if len(p) < WordSize {
		return 0, fmt.Errorf("need %d bytes to decode a word - got %d", WordSize, len(p))
	}
	return o.ByteOrder().Uint64(p), nil
}

// HexString returns the in-memory bytes of w as hex, which is how
// they appear in a hex dump of the target.
func (o WordCodec) HexString(w uint64) string {
	return fmt.Sprintf("0x%x", o.Bytes(w))
}
