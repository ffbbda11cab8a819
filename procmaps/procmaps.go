// Package procmaps parses the memory layout of a Linux process as
// described by /proc/<pid>/maps.
//
// Regions are derived fresh on every call. Callers should not cache
// them across an injection attempt because the target may map or
// unmap memory between reads.
package procmaps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

// ErrProcessGone is returned when the maps of a process cannot be read
// because the process no longer exists.
var ErrProcessGone = errors.New("process is gone")

type Class int

const (
	Anonymous Class = iota
	Heap
	Stack
	Code
	FileBacked
	Pseudo
)

func (o Class) String() string {
	switch o {
	case Anonymous:
		return "anonymous"
	case Heap:
		return "heap"
	case Stack:
		return "stack"
	case Code:
		return "code"
	case FileBacked:
		return "file-backed"
	case Pseudo:
		return "pseudo"
	default:
		return fmt.Sprintf("Class(%d)", int(o))
	}
}

func (o Class) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

type Perms struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Execute bool `json:"execute"`
	Shared  bool `json:"shared"`
}

func (o Perms) String() string {
	b := []byte("----")
	if o.Read {
		b[0] = 'r'
	}
	if o.Write {
		b[1] = 'w'
	}
	if o.Execute {
		b[2] = 'x'
	}
	if o.Shared {
		b[3] = 's'
	} else {
		b[3] = 'p'
	}
	return string(b)
}

// Region is one line of a maps file. End is exclusive.
type Region struct {
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Perms  Perms  `json:"perms"`
	Offset uint64 `json:"offset"`
	Inode  uint64 `json:"inode"`
	Path   string `json:"path,omitempty"`
	Class  Class  `json:"class"`
}

func (o Region) Size() uint64 {
	return o.End - o.Start
}

func (o Region) Contains(addr uint64) bool {
	return addr >= o.Start && addr < o.End
}

// Name returns the backing path, or "anonymous" for unnamed mappings.
func (o Region) Name() string {
	if o.Path == "" {
		return "anonymous"
	}
	return o.Path
}

func (o Region) String() string {
	return fmt.Sprintf("0x%x-0x%x %s %s (%s)", o.Start, o.End, o.Perms, o.Name(), o.Class)
}

// Path returns the maps file path of a process.
func Path(pid int) string {
	return fmt.Sprintf("/proc/%d/maps", pid)
}

// Parse parses maps-formatted text, such as a maps file captured from
// another machine. The result is sorted by start address.
//
// Unlike Read, Parse keeps the pathname exactly as written, including
// runs of spaces.
func Parse(r io.Reader) ([]Region, error) {
	var regions []Region

	scanner := bufio.NewScanner(r)
	// Paths may be up to PATH_MAX.
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		region, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d - %w", lineNum, err)
		}

		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sortRegions(regions)

	return regions, nil
}

func sortRegions(regions []Region) {
	slices.SortFunc(regions, func(a, b Region) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
}

// ParseLine parses a single maps line:
//
//	address           perms offset  dev   inode   pathname
//	00400000-00452000 r-xp 00000000 08:02 173521  /usr/bin/dbus-daemon
func ParseLine(line string) (Region, error) {
	var region Region

	rest := line
	fields := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		rest = strings.TrimLeft(rest, " \t")
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			end = len(rest)
		}
		if end == 0 {
			return Region{}, fmt.Errorf("expected at least 5 fields in %q", line)
		}
		fields = append(fields, rest[:end])
		rest = rest[end:]
	}

	region.Path = strings.TrimSpace(rest)

	startStr, endStr, found := strings.Cut(fields[0], "-")
	if !found {
		return Region{}, fmt.Errorf("malformed address range %q", fields[0])
	}

	var err error
	region.Start, err = strconv.ParseUint(startStr, 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("failed to parse start address %q - %w", startStr, err)
	}

	region.End, err = strconv.ParseUint(endStr, 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("failed to parse end address %q - %w", endStr, err)
	}

	if region.End < region.Start {
		return Region{}, fmt.Errorf("region end 0x%x is before start 0x%x", region.End, region.Start)
	}

	region.Perms, err = parsePerms(fields[1])
	if err != nil {
		return Region{}, err
	}

	region.Offset, err = strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return Region{}, fmt.Errorf("failed to parse offset %q - %w", fields[2], err)
	}

	region.Inode, err = strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return Region{}, fmt.Errorf("failed to parse inode %q - %w", fields[4], err)
	}

	region.Class = classify(region)

	return region, nil
}

func parsePerms(s string) (Perms, error) {
	if len(s) != 4 {
		return Perms{}, fmt.Errorf("malformed permissions %q", s)
	}

	return Perms{
		Read:    s[0] == 'r',
		Write:   s[1] == 'w',
		Execute: s[2] == 'x',
		Shared:  s[3] == 's',
	}, nil
}

func classify(r Region) Class {
	switch {
	case r.Path == "[heap]":
		return Heap
	case r.Path == "[stack]" || strings.HasPrefix(r.Path, "[stack:"):
		return Stack
	case r.Path == "" || strings.HasPrefix(r.Path, "[anon"):
		if r.Perms.Execute {
			return Code
		}
		return Anonymous
	case strings.HasPrefix(r.Path, "["):
		return Pseudo
	case r.Perms.Execute:
		return Code
	default:
		return FileBacked
	}
}

// Find returns the region containing addr.
func Find(regions []Region, addr uint64) (Region, bool) {
	for _, r := range regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return Region{}, false
}
