// Package memory locates words in the memory of a stopped process.
//
// # Locating a target
//
// Two strategies are provided. Blind picks a fixed offset inside the
// first region matching a Selector. It does not read the process and
// offers no guarantee that anything interesting lives at the returned
// address. Locator.Scan reads every aligned word of the candidate
// regions and returns the lowest address holding an exact 64-bit
// signature.
//
// Candidate regions for a scan must be writable. For SelectHeap this
// includes the [heap] region and unnamed read-write mappings, since
// many allocators (and most language runtimes) never use brk(2).
//
// # Words
//
// Signatures and manual addresses are given as hex strings and parsed
// with ParseWord. A WordCodec converts between words and the bytes the
// target stores them as.
package memory
