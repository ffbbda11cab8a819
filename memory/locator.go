package memory

import (
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"gitlab.com/faultkit/faultkit/process"
	"gitlab.com/faultkit/faultkit/procmaps"
)

var (
	// ErrRegionNotFound is returned when no region matches a Selector.
	ErrRegionNotFound = errors.New("no matching memory region")

	// ErrSignatureNotFound is returned when every candidate region was
	// scanned without finding the signature.
	ErrSignatureNotFound = errors.New("signature not found")
)

// Selector names the kind of memory to target.
type Selector string

const (
	SelectHeap   Selector = "heap"
	SelectStack  Selector = "stack"
	SelectCode   Selector = "code"
	SelectManual Selector = "manual"
)

// Offsets used by Blind.
const (
	BlindHeapOffset  = 0x100
	BlindStackOffset = 0x200
	BlindCodeOffset  = 0x100
)

// DefaultChunkSize is the number of bytes read at once by Scan.
const DefaultChunkSize = 4096

func ParseSelector(s string) (Selector, error) {
	switch sel := Selector(strings.ToLower(strings.TrimSpace(s))); sel {
	case SelectHeap, SelectStack, SelectCode, SelectManual:
		return sel, nil
	default:
		return "", fmt.Errorf("unknown region selector: %q", s)
	}
}

func (o Selector) String() string {
	return string(o)
}

// Target is a located word.
type Target struct {
	Address uint64          `json:"address"`
	Region  procmaps.Region `json:"region"`
}

func (o Target) String() string {
	return fmt.Sprintf("0x%x in %s", o.Address, o.Region.Name())
}

func BlindOrExit(regions []procmaps.Region, sel Selector) Target {
	t, err := Blind(regions, sel)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to pick a %s address - %w", sel, err))
	}
	return t
}

// Blind returns a fixed offset into the first region matching sel:
//
//	heap:  start of [heap] + BlindHeapOffset
//	stack: end of [stack] - BlindStackOffset
//	code:  start of the first executable region + BlindCodeOffset
//
// This is a heuristic. Nothing checks that the word is in use.
func Blind(regions []procmaps.Region, sel Selector) (Target, error) {
	for _, r := range regions {
		switch {
		case sel == SelectHeap && r.Class == procmaps.Heap:
			return blindTarget(r, r.Start+BlindHeapOffset)
		case sel == SelectStack && r.Path == "[stack]":
			return blindTarget(r, r.End-BlindStackOffset)
		case sel == SelectCode && r.Perms.Execute:
			return blindTarget(r, r.Start+BlindCodeOffset)
		}
	}

	return Target{}, fmt.Errorf("%w for selector %q", ErrRegionNotFound, sel)
}

func blindTarget(r procmaps.Region, addr uint64) (Target, error) {
	if !r.Contains(addr) {
		return Target{}, fmt.Errorf("%w: region %s is too small for a blind offset",
			ErrRegionNotFound, r)
	}

	return Target{Address: addr, Region: r}, nil
}

// Candidates returns the regions Scan searches for sel, in ascending
// address order.
func Candidates(regions []procmaps.Region, sel Selector) []procmaps.Region {
	var out []procmaps.Region
	for _, r := range regions {
		if !r.Perms.Read || !r.Perms.Write {
			continue
		}

		var match bool
		switch sel {
		case SelectHeap:
			match = r.Class == procmaps.Heap ||
				r.Path == "" ||
				strings.HasPrefix(r.Path, "[anon")
		case SelectStack:
			match = r.Class == procmaps.Stack
		case SelectCode:
			match = r.Class == procmaps.Code
		}

		if match {
			out = append(out, r)
		}
	}

	slices.SortFunc(out, func(a, b procmaps.Region) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	return out
}

// Locator scans process memory for exact word values.
type Locator struct {
	// Reader reads the memory of the stopped process.
	Reader WordReader

	// Codec decodes scanned bytes. The zero value uses the
	// native byte order.
	Codec WordCodec

	// ChunkSize is the number of bytes read at once. It is rounded
	// down to a multiple of WordSize. DefaultChunkSize is used when
	// it is smaller than one word.
	ChunkSize int

	// Verbose optionally logs each scanned region.
	Verbose *log.Logger
}

func (o Locator) ScanOrExit(regions []procmaps.Region, sel Selector, signature uint64) Target {
	t, err := o.Scan(regions, sel, signature)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to scan for %s - %w", FormatWord(signature), err))
	}
	return t
}

// Scan returns the lowest 8-byte aligned address in the candidate
// regions of sel that holds signature.
//
// Memory is read a chunk at a time. A chunk that cannot be read as
// a whole is re-read word by word and the unreadable words are
// skipped. Scanning stops if the process goes away.
func (o Locator) Scan(regions []procmaps.Region, sel Selector, signature uint64) (Target, error) {
	if o.Reader == nil {
		return Target{}, fmt.Errorf("locator reader cannot be nil")
	}

	candidates := Candidates(regions, sel)
	if len(candidates) == 0 {
		return Target{}, fmt.Errorf("%w: no writable %q regions to scan", ErrRegionNotFound, sel)
	}

	chunkSize := uint64(DefaultChunkSize)
	if o.ChunkSize >= WordSize {
		chunkSize = uint64(o.ChunkSize) &^ (WordSize - 1)
	}

	buf := make([]byte, chunkSize)
	skipped := 0

	for _, r := range candidates {
		o.logf("scanning %s for %s", r, FormatWord(signature))

		addr := alignUp(r.Start)
		for addr < r.End {
			n := min(chunkSize, (r.End-addr)&^(WordSize-1))
			if n == 0 {
				break
			}

			chunk := buf[:n]
			_, err := o.Reader.ReadMemory(addr, chunk)
			if err != nil {
				if isFatal(err) {
					return Target{}, fmt.Errorf("failed to scan %s - %w", r, err)
				}

				match, ok, unreadable, err := o.scanWords(addr, n, signature)
				skipped += unreadable
				if err != nil {
					return Target{}, fmt.Errorf("failed to scan %s - %w", r, err)
				}
				if ok {
					return o.found(r, match, skipped), nil
				}
			} else {
				for i := uint64(0); i < n; i += WordSize {
					w, _ := o.Codec.Word(chunk[i:])
					if w == signature {
						return o.found(r, addr+i, skipped), nil
					}
				}
			}

			addr += n
		}
	}

	return Target{}, fmt.Errorf("%w: %s in %d %q regions (%d unreadable words)",
		ErrSignatureNotFound, FormatWord(signature), len(candidates), sel, skipped)
}

// scanWords reads n bytes at addr one word at a time, returning the
// address of the first match and the number of unreadable words.
func (o Locator) scanWords(addr uint64, n uint64, signature uint64) (uint64, bool, int, error) {
	unreadable := 0
	for i := uint64(0); i < n; i += WordSize {
		w, err := o.Reader.ReadWord(addr + i)
		if err != nil {
			if isFatal(err) {
				return 0, false, unreadable, err
			}
			unreadable++
			continue
		}

		if w == signature {
			return addr + i, true, unreadable, nil
		}
	}

	return 0, false, unreadable, nil
}

func (o Locator) found(r procmaps.Region, addr uint64, skipped int) Target {
	o.logf("found match at 0x%x (%d unreadable words skipped)", addr, skipped)
	return Target{Address: addr, Region: r}
}

func (o Locator) logf(format string, args ...interface{}) {
	if o.Verbose != nil {
		o.Verbose.Printf(format, args...)
	}
}

// isFatal reports whether err means the scan cannot continue at all.
func isFatal(err error) bool {
	return errors.Is(err, process.ErrTargetGone) || errors.Is(err, process.ErrNotStopped)
}

func alignUp(addr uint64) uint64 {
	return (addr + WordSize - 1) &^ (WordSize - 1)
}
