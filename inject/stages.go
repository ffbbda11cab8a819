package inject

import (
	"fmt"
	"log"
	"time"
)

// State is a step of an injection.
type State int

const (
	StateIdle State = iota
	StateAttaching
	StateAttached
	StateRunning
	StateStopped
	StateCorrupting
	StateDetached
)

func (o State) String() string {
	switch o {
	case StateIdle:
		return "idle"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCorrupting:
		return "corrupting"
	case StateDetached:
		return "detached"
	default:
		return fmt.Sprintf("State(%d)", int(o))
	}
}

func (o State) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
	Note string    `json:"note,omitempty"`
}

func (o Transition) String() string {
	if o.Note == "" {
		return fmt.Sprintf("%s -> %s", o.From, o.To)
	}
	return fmt.Sprintf("%s -> %s: %s", o.From, o.To, o.Note)
}

// stageCtl records the transitions of one injection and reflects
// them as output to an optional log.Logger.
type stageCtl struct {
	logger      *log.Logger
	current     State
	transitions []Transition
}

func (o *stageCtl) next(to State, note ...string) {
	t := Transition{
		From: o.current,
		To:   to,
		At:   time.Now(),
	}
	if len(note) > 0 {
		t.Note = note[0]
	}

	o.transitions = append(o.transitions, t)
	o.current = to

	if o.logger != nil {
		o.logger.Printf("state %s", t)
	}
}
