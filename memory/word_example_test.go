package memory_test

import (
	"encoding/binary"
	"fmt"

	"gitlab.com/faultkit/faultkit/memory"
)

func ExampleParseWord() {
	w := memory.ParseWordOrExit("0xcafe")

	fmt.Println(memory.FormatWord(w))
	fmt.Println(memory.CodecForOrExit(binary.LittleEndian).HexString(w))

	// Output:
	// 0x000000000000cafe
	// 0xfeca000000000000
}
