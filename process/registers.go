package process

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidRegister is returned when a register name is not part of
// a Layout.
var ErrInvalidRegister = errors.New("invalid register")

var (
	// ARM64 is the general purpose register layout of arm64 Linux
	// (struct user_pt_regs without pstate).
	ARM64 = newLayout("arm64", arm64Names(), map[string]string{
		"FP": "X29",
		"LR": "X30",
	})

	// AMD64 is the general purpose register layout of x86-64 Linux.
	AMD64 = newLayout("amd64", []string{
		"RAX", "RBX", "RCX", "RDX", "RSI", "RDI", "RBP", "RSP",
		"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
		"RIP", "EFLAGS",
	}, map[string]string{
		"PC": "RIP",
		"SP": "RSP",
	})
)

func arm64Names() []string {
	names := make([]string, 0, 33)
	for i := 0; i <= 30; i++ {
		names = append(names, "X"+strconv.Itoa(i))
	}
	return append(names, "SP", "PC")
}

// Layout names the registers of a RegisterSet.
type Layout struct {
	arch  string
	names []string
	index map[string]int
}

func newLayout(arch string, names []string, aliases map[string]string) *Layout {
	index := make(map[string]int, len(names)+len(aliases))
	for i, name := range names {
		index[name] = i
	}

	for alias, target := range aliases {
		i, ok := index[target]
		if !ok {
			panic(fmt.Sprintf("alias %s refers to unknown register %s", alias, target))
		}
		index[alias] = i
	}

	return &Layout{
		arch:  arch,
		names: names,
		index: index,
	}
}

func (o *Layout) Arch() string {
	return o.arch
}

// Names returns the canonical register names in set order.
func (o *Layout) Names() []string {
	return append([]string(nil), o.names...)
}

func (o *Layout) Len() int {
	return len(o.names)
}

// Resolve returns the index of a register. Names are case-insensitive.
func (o *Layout) Resolve(name string) (int, error) {
	i, ok := o.index[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an %s register", ErrInvalidRegister, name, o.arch)
	}
	return i, nil
}

// Name returns the canonical name of the register at index i.
func (o *Layout) Name(i int) string {
	return o.names[i]
}

// NewSet returns a zeroed RegisterSet.
func (o *Layout) NewSet() RegisterSet {
	return RegisterSet{
		layout: o,
		values: make([]uint64, len(o.names)),
	}
}

// SetFromValues returns a RegisterSet holding a copy of values.
func (o *Layout) SetFromValues(values []uint64) (RegisterSet, error) {
	if len(values) != len(o.names) {
		return RegisterSet{}, fmt.Errorf("%s register set needs %d values - got %d",
			o.arch, len(o.names), len(values))
	}

	set := o.NewSet()
	copy(set.values, values)
	return set, nil
}

// RegisterSet is a snapshot of a stopped process' registers.
//
// The set is read and written as a whole. To change one register, read
// the set, modify it and write it back.
type RegisterSet struct {
	layout *Layout
	values []uint64
}

func (o RegisterSet) Layout() *Layout {
	return o.layout
}

func (o RegisterSet) Len() int {
	return len(o.values)
}

func (o RegisterSet) Get(i int) uint64 {
	return o.values[i]
}

func (o RegisterSet) Set(i int, value uint64) {
	o.values[i] = value
}

// Lookup returns the value of the named register.
func (o RegisterSet) Lookup(name string) (uint64, error) {
	i, err := o.layout.Resolve(name)
	if err != nil {
		return 0, err
	}
	return o.values[i], nil
}

// Values returns a copy of the raw values in layout order.
func (o RegisterSet) Values() []uint64 {
	return append([]uint64(nil), o.values...)
}

func (o RegisterSet) Clone() RegisterSet {
	return RegisterSet{
		layout: o.layout,
		values: o.Values(),
	}
}

func (o RegisterSet) String() string {
	if o.layout == nil {
		return "<empty register set>"
	}

	b := strings.Builder{}
	for i, v := range o.values {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=0x%x", o.layout.names[i], v)
	}
	return b.String()
}
