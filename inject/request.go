package inject

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gitlab.com/faultkit/faultkit/fault"
	"gitlab.com/faultkit/faultkit/memory"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRequest is returned for requests rejected before the
// target is attached.
var ErrInvalidRequest = errors.New("invalid injection request")

var validate = validator.New()

// Request describes one injection. Exactly one of Region and Register
// must be set.
type Request struct {
	PID int `validate:"gt=0"`

	// Region selects the memory to corrupt. SelectManual requires
	// Address.
	Region memory.Selector `validate:"omitempty,oneof=heap stack code manual"`

	// Address is the word to corrupt with SelectManual.
	Address uint64

	// Signature, when set, makes the locator scan Region for this
	// exact value instead of picking a blind offset.
	Signature *uint64

	// Register names the register to corrupt.
	Register string `validate:"excluded_with=Region"`

	Fault fault.Spec

	// Delay lets the target run before it is stopped and corrupted.
	Delay time.Duration `validate:"gte=0"`

	// Verify reads the corrupted word back after writing it.
	Verify bool
}

// RegisterMode reports whether the request targets a register.
func (o Request) RegisterMode() bool {
	return o.Register != ""
}

// Validate checks everything that can be checked without the target.
func (o Request) Validate() error {
	err := validate.Struct(o)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	switch {
	case o.Region == "" && o.Register == "":
		return fmt.Errorf("%w: either a region or a register is required", ErrInvalidRequest)
	case o.Region == memory.SelectManual && o.Address == 0:
		return fmt.Errorf("%w: the manual region requires an address", ErrInvalidRequest)
	case o.Region != memory.SelectManual && o.Address != 0:
		return fmt.Errorf("%w: an address may only be used with the manual region", ErrInvalidRequest)
	case o.Signature != nil && (o.Region == memory.SelectManual || o.RegisterMode()):
		return fmt.Errorf("%w: a signature may only be used with the heap, stack or code region",
			ErrInvalidRequest)
	}

	err = o.Fault.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return nil
}

// Options is the string form of a Request, shared by command line
// flags and request files.
type Options struct {
	PID       int    `yaml:"pid"`
	Region    string `yaml:"region"`
	Address   string `yaml:"address"`
	Signature string `yaml:"signature"`
	Register  string `yaml:"register"`
	Fault     string `yaml:"fault"`
	Bit       int    `yaml:"bit"`
	Addend    uint64 `yaml:"addend"`
	DelayUS   int64  `yaml:"delay_us"`
	Verify    bool   `yaml:"verify"`
}

// DefaultOptions flips a random bit.
func DefaultOptions() Options {
	return Options{
		Fault: fault.BitFlip.String(),
		Bit:   fault.AnyBit,
	}
}

func LoadOptionsOrExit(path string) Options {
	o, err := LoadOptions(path)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to load request file - %w", err))
	}
	return o
}

// LoadOptions reads a YAML request file. Fields missing from the
// file keep their DefaultOptions values.
func LoadOptions(path string) (Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return Options{}, err
	}
	defer f.Close()

	o := DefaultOptions()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	err = decoder.Decode(&o)
	if err != nil {
		return Options{}, fmt.Errorf("failed to decode %s - %w", path, err)
	}

	return o, nil
}

// Request parses and validates the options. Without a region or a
// register, an address selects the manual region and the heap is
// targeted otherwise.
func (o Options) Request() (Request, error) {
	spec, err := fault.ParseSpec(o.Fault, o.Bit, o.Addend)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	req := Request{
		PID:      o.PID,
		Register: strings.TrimSpace(o.Register),
		Fault:    spec,
		Delay:    time.Duration(o.DelayUS) * time.Microsecond,
		Verify:   o.Verify,
	}

	switch {
	case o.Region != "":
		req.Region, err = memory.ParseSelector(o.Region)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	case req.Register != "":
	case o.Address != "":
		req.Region = memory.SelectManual
	default:
		req.Region = memory.SelectHeap
	}

	if o.Address != "" {
		req.Address, err = memory.ParseWord(o.Address)
		if err != nil {
			return Request{}, fmt.Errorf("%w: address - %w", ErrInvalidRequest, err)
		}
	}

	if o.Signature != "" {
		sig, err := memory.ParseWord(o.Signature)
		if err != nil {
			return Request{}, fmt.Errorf("%w: signature - %w", ErrInvalidRequest, err)
		}
		req.Signature = &sig
	}

	return req, req.Validate()
}
