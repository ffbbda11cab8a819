// Package fault implements the fault taxonomy used to corrupt a 64-bit word.
//
// A Spec describes a fault. Random choices (an unspecified bit, the second
// bit of a two-bit fault, the byte written by ByteRandomize) are drawn once
// by Spec.Resolve, after which Apply is a pure function of its inputs.
package fault

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// AnyBit selects a uniformly random bit when the Spec is resolved.
const AnyBit = -1

const (
	MinAddend = 1
	MaxAddend = 5

	lowByteMask = uint64(0xff)
)

// ErrInvalidSpec is returned by Spec.Validate and ParseSpec.
var ErrInvalidSpec = errors.New("invalid fault spec")

type Kind int

const (
	BitFlip Kind = iota
	StuckAt0
	StuckAt1
	ByteRandomize
	ArithmeticAdd
	DoubleBitFlip
	DoubleStuckAt0
	DoubleStuckAt1
	LowByteZero
	LowByteOnes
)

var kindNames = map[Kind]string{
	BitFlip:        "flip",
	StuckAt0:       "set0",
	StuckAt1:       "set1",
	ByteRandomize:  "byte",
	ArithmeticAdd:  "add",
	DoubleBitFlip:  "flip2",
	DoubleStuckAt0: "zero2",
	DoubleStuckAt1: "set2",
	LowByteZero:    "low0",
	LowByteOnes:    "low1",
}

var kindAliases = map[string]Kind{
	"zero1":  StuckAt0,
	"lowerr": ByteRandomize,
}

func (o Kind) String() string {
	name, ok := kindNames[o]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(o))
	}
	return name
}

// UsesBit reports whether the fault targets specific bits of the word.
func (o Kind) UsesBit() bool {
	switch o {
	case BitFlip, StuckAt0, StuckAt1, DoubleBitFlip, DoubleStuckAt0, DoubleStuckAt1:
		return true
	}
	return false
}

func (o Kind) twoBits() bool {
	switch o {
	case DoubleBitFlip, DoubleStuckAt0, DoubleStuckAt1:
		return true
	}
	return false
}

// MarshalText lets a Kind appear by name in JSON and YAML output.
func (o Kind) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Kind) UnmarshalText(text []byte) error {
	k, _, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*o = k
	return nil
}

// ParseKind parses a fault name. Names of the form "addN" carry their
// addend, which is returned as the second value (zero otherwise).
func ParseKind(name string) (Kind, uint64, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for k, n := range kindNames {
		if n == name {
			return k, 0, nil
		}
	}

	if k, ok := kindAliases[name]; ok {
		return k, 0, nil
	}

	if strings.HasPrefix(name, "add") {
		n, err := strconv.ParseUint(strings.TrimPrefix(name, "add"), 10, 64)
		if err == nil && n >= MinAddend && n <= MaxAddend {
			return ArithmeticAdd, n, nil
		}
	}

	return 0, 0, fmt.Errorf("%w: unknown fault type %q", ErrInvalidSpec, name)
}

// Spec describes one fault.
type Spec struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Bit is the targeted bit (0-63) or AnyBit.
	Bit int `json:"bit" yaml:"bit"`

	// Addend is n for ArithmeticAdd.
	Addend uint64 `json:"addend,omitempty" yaml:"addend,omitempty"`

	// SecondBit is chosen on resolution for two-bit faults.
	SecondBit int `json:"second_bit,omitempty" yaml:"-"`

	// Byte is chosen on resolution for ByteRandomize.
	Byte uint8 `json:"byte,omitempty" yaml:"-"`

	resolved bool
}

// ParseSpec builds a Spec from its command line form.
func ParseSpec(kindName string, bit int, addend uint64) (Spec, error) {
	kind, parsedAddend, err := ParseKind(kindName)
	if err != nil {
		return Spec{}, err
	}

	if parsedAddend > 0 {
		if addend > 0 && addend != parsedAddend {
			return Spec{}, fmt.Errorf("%w: %q conflicts with addend %d",
				ErrInvalidSpec, kindName, addend)
		}
		addend = parsedAddend
	}

	if kind == ArithmeticAdd && addend == 0 {
		addend = MinAddend
	}

	spec := Spec{
		Kind:   kind,
		Bit:    bit,
		Addend: addend,
	}

	return spec, spec.Validate()
}

func (o Spec) Validate() error {
	if _, ok := kindNames[o.Kind]; !ok {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidSpec, int(o.Kind))
	}

	if o.Bit < AnyBit || o.Bit > 63 {
		return fmt.Errorf("%w: bit must be between 0 and 63 - got %d", ErrInvalidSpec, o.Bit)
	}

	if o.Kind == ArithmeticAdd && (o.Addend < MinAddend || o.Addend > MaxAddend) {
		return fmt.Errorf("%w: addend must be between %d and %d - got %d",
			ErrInvalidSpec, MinAddend, MaxAddend, o.Addend)
	}

	return nil
}

// Resolved reports whether all random choices have been made.
func (o Spec) Resolved() bool {
	return o.resolved
}

// Resolve returns a copy of the Spec with every random choice drawn from
// rng. A nil rng uses the math/rand/v2 global source.
func (o Spec) Resolve(rng *rand.Rand) Spec {
	if o.resolved {
		return o
	}

	intN := rand.IntN
	if rng != nil {
		intN = rng.IntN
	}

	if o.Kind.UsesBit() && o.Bit == AnyBit {
		o.Bit = intN(64)
	}

	if o.Kind.twoBits() {
		// The second bit is always random and never equal to the first.
		o.SecondBit = (o.Bit + 1 + intN(63)) % 64
	}

	if o.Kind == ByteRandomize {
		o.Byte = uint8(intN(256))
	}

	o.resolved = true

	return o
}

// Apply returns original corrupted according to spec. An unresolved spec
// is resolved with the global random source first.
func Apply(original uint64, spec Spec) uint64 {
	spec = spec.Resolve(nil)

	mask := uint64(1) << uint(spec.Bit)
	second := uint64(1) << uint(spec.SecondBit)

	switch spec.Kind {
	case BitFlip:
		return original ^ mask
	case StuckAt0:
		return original &^ mask
	case StuckAt1:
		return original | mask
	case ByteRandomize:
		return original&^lowByteMask | uint64(spec.Byte)
	case ArithmeticAdd:
		return original + spec.Addend
	case DoubleBitFlip:
		return original ^ mask ^ second
	case DoubleStuckAt0:
		return original &^ (mask | second)
	case DoubleStuckAt1:
		return original | mask | second
	case LowByteZero:
		return original &^ lowByteMask
	case LowByteOnes:
		return original | lowByteMask
	default:
		return original
	}
}

// Describe renders the resolved spec for a trace, e.g. "flip (bit 3)".
func (o Spec) Describe() string {
	switch {
	case o.Kind == ArithmeticAdd:
		return fmt.Sprintf("%s (+%d)", o.Kind, o.Addend)
	case o.Kind == ByteRandomize && o.resolved:
		return fmt.Sprintf("%s (0x%02x)", o.Kind, o.Byte)
	case o.Kind.twoBits() && o.resolved:
		return fmt.Sprintf("%s (bits %d, %d)", o.Kind, o.Bit, o.SecondBit)
	case o.Kind.UsesBit() && o.Bit == AnyBit:
		return fmt.Sprintf("%s (random bit)", o.Kind)
	case o.Kind.UsesBit():
		return fmt.Sprintf("%s (bit %d)", o.Kind, o.Bit)
	default:
		return o.Kind.String()
	}
}
