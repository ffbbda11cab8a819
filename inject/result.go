package inject

import (
	"time"

	"gitlab.com/faultkit/faultkit/fault"
	"gitlab.com/faultkit/faultkit/memory"
	"gitlab.com/faultkit/faultkit/procmaps"
)

type Outcome string

const (
	// OutcomeInjected means the corrupted value was written.
	OutcomeInjected Outcome = "injected"

	// OutcomeVerified means the corrupted value was written and
	// read back.
	OutcomeVerified Outcome = "verified"

	OutcomeFailed Outcome = "failed"
)

// Word is a 64-bit value rendered as hex in JSON.
type Word uint64

func (o Word) MarshalText() ([]byte, error) {
	return []byte(memory.FormatWord(uint64(o))), nil
}

func (o *Word) UnmarshalText(text []byte) error {
	w, err := memory.ParseWord(string(text))
	if err != nil {
		return err
	}
	*o = Word(w)
	return nil
}

func (o Word) String() string {
	return memory.FormatWord(uint64(o))
}

// Instruction is the decoded instruction at a corrupted code word or
// program counter.
type Instruction struct {
	Address Word   `json:"address"`
	Before  string `json:"before,omitempty"`
	After   string `json:"after"`
}

// Result describes one injection attempt. Fields that were not reached
// before a failure are left at their zero value.
type Result struct {
	ID  string `json:"id"`
	PID int    `json:"pid"`

	Address  Word             `json:"address,omitempty"`
	Region   *procmaps.Region `json:"region,omitempty"`
	Register string           `json:"register,omitempty"`

	// Fault is the resolved fault, including its random choices.
	Fault fault.Spec `json:"fault"`

	Original  Word  `json:"original"`
	Corrupted Word  `json:"corrupted"`
	ReadBack  *Word `json:"read_back,omitempty"`

	Instruction *Instruction `json:"instruction,omitempty"`

	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed"`
	Transitions []Transition  `json:"transitions"`
}

// Location renders the corrupted register or address.
func (o Result) Location() string {
	if o.Register != "" {
		return o.Register
	}

	if o.Region != nil {
		return o.Address.String() + " (" + o.Region.Name() + ")"
	}

	return o.Address.String()
}
