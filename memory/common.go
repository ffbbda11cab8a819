package memory

import "log"

// WordReader reads the memory of a stopped process. A *process.Session
// is a WordReader.
type WordReader interface {
	// ReadWord reads the 64-bit word at addr.
	ReadWord(addr uint64) (uint64, error)

	// ReadMemory reads len(p) bytes starting at addr. A read that
	// crosses an unreadable page fails as a whole.
	ReadMemory(addr uint64, p []byte) (int, error)
}

var (
	// DefaultExitFn is invoked by functions and methods ending in
	// the "OrExit" suffix when an error occurs.
	DefaultExitFn = func(err error) {
		log.Fatalln(err)
	}
)
