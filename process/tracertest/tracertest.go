// Package tracertest provides an in-memory process.Tracer for tests.
//
// A FakeTracer simulates one process: a sparse word-addressed memory, a
// register set and a run state. Individual operations can be made to
// fail, which allows testing cleanup on every error path.
package tracertest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"gitlab.com/faultkit/faultkit/process"
)

// ErrInjected is the default error returned by failing operations.
var ErrInjected = errors.New("injected test failure")

// Op names a FakeTracer operation for FailOn.
type Op string

const (
	OpAttach       Op = "attach"
	OpDetach       Op = "detach"
	OpWait         Op = "wait"
	OpContinue     Op = "continue"
	OpInterrupt    Op = "interrupt"
	OpPeek         Op = "peek"
	OpPoke         Op = "poke"
	OpReadMemory   Op = "read-memory"
	OpRegisters    Op = "registers"
	OpSetRegisters Op = "set-registers"
)

// New returns a FakeTracer simulating pid with an ARM64 register set.
func New(pid int) *FakeTracer {
	return &FakeTracer{
		PID:       pid,
		words:     make(map[uint64]uint64),
		regs:      process.ARM64.NewSet(),
		layout:    process.ARM64,
		failures:  make(map[Op]error),
		calls:     make(map[Op]int),
		stopped:   make(chan struct{}, 1),
		unmapped:  make(map[uint64]bool),
		byteOrder: binary.LittleEndian,
	}
}

// FakeTracer implements process.Tracer for a single simulated process.
type FakeTracer struct {
	// PID is the only pid the tracer accepts.
	PID int

	// OnRun is called each time the simulated process is resumed by
	// Continue. It runs on the goroutine that called Continue.
	OnRun func(f *FakeTracer)

	// ExitWhileRunning makes the process exit as soon as it is
	// resumed, before any stop request arrives.
	ExitWhileRunning bool

	mu        sync.Mutex
	words     map[uint64]uint64
	unmapped  map[uint64]bool
	regs      process.RegisterSet
	layout    *process.Layout
	failures  map[Op]error
	calls     map[Op]int
	attached  bool
	running   bool
	exited    bool
	stopped   chan struct{}
	byteOrder binary.ByteOrder
	pending   []syscall.Signal
	delivered []syscall.Signal
}

// SetLayout replaces the register layout, resetting all registers.
func (o *FakeTracer) SetLayout(layout *process.Layout) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.layout = layout
	o.regs = layout.NewSet()
}

// FailOn makes every call of op return err (ErrInjected when nil).
func (o *FakeTracer) FailOn(op Op, err error) {
	if err == nil {
		err = ErrInjected
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[op] = err
}

// ClearFailure undoes FailOn.
func (o *FakeTracer) ClearFailure(op Op) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.failures, op)
}

// QueueSignal makes the next Wait report the process stopped by sig,
// as if sig arrived before the pending stop.
func (o *FakeTracer) QueueSignal(sig syscall.Signal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, sig)
}

// Delivered returns the non-zero signals passed to Continue.
func (o *FakeTracer) Delivered() []syscall.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]syscall.Signal(nil), o.delivered...)
}

// Calls returns how many times op was invoked.
func (o *FakeTracer) Calls(op Op) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[op]
}

// Attached reports whether the process is currently attached.
func (o *FakeTracer) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attached
}

// SetWord stores a word in the simulated memory. addr must be 8-byte
// aligned.
func (o *FakeTracer) SetWord(addr uint64, word uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.words[addr] = word
	delete(o.unmapped, addr)
}

// Word returns a word from the simulated memory.
func (o *FakeTracer) Word(addr uint64) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.words[addr]
}

// Unmap makes the word at addr unreadable.
func (o *FakeTracer) Unmap(addr uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unmapped[addr] = true
}

// SetRegister sets a register by name.
func (o *FakeTracer) SetRegister(name string, value uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	i, err := o.layout.Resolve(name)
	if err != nil {
		return err
	}

	o.regs.Set(i, value)
	return nil
}

// Register returns a register by name.
func (o *FakeTracer) Register(name string) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.regs.Lookup(name)
}

func (o *FakeTracer) begin(op Op, pid int) error {
	o.calls[op]++

	if err := o.failures[op]; err != nil {
		return err
	}

	if pid != o.PID || o.exited {
		return syscall.ESRCH
	}

	return nil
}

func (o *FakeTracer) requireStopped() error {
	if !o.attached || o.running {
		return syscall.ESRCH
	}
	return nil
}

func (o *FakeTracer) Attach(pid int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpAttach, pid)
	if err != nil {
		return err
	}

	if o.attached {
		return syscall.EPERM
	}

	o.attached = true
	o.running = false
	o.signalStop()

	return nil
}

func (o *FakeTracer) Detach(pid int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpDetach, pid)
	if err != nil {
		return err
	}

	if err := o.requireStopped(); err != nil {
		return err
	}

	o.attached = false

	return nil
}

func (o *FakeTracer) Wait(pid int) (process.WaitStatus, error) {
	o.mu.Lock()
	err := o.begin(OpWait, pid)
	if err == syscall.ESRCH && pid == o.PID && o.exited {
		o.mu.Unlock()
		return process.WaitStatus{Exited: true}, nil
	}
	if err == nil && len(o.pending) > 0 {
		sig := o.pending[0]
		o.pending = o.pending[1:]
		o.running = false
		o.mu.Unlock()
		return process.WaitStatus{Stopped: true, Signal: sig}, nil
	}
	o.mu.Unlock()
	if err != nil {
		return process.WaitStatus{}, err
	}

	<-o.stopped

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.exited {
		return process.WaitStatus{Exited: true}, nil
	}

	o.running = false

	return process.WaitStatus{Stopped: true, Signal: syscall.SIGSTOP}, nil
}

func (o *FakeTracer) Continue(pid int, sig syscall.Signal) error {
	o.mu.Lock()
	err := o.begin(OpContinue, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		o.mu.Unlock()
		return err
	}

	if sig != 0 {
		o.delivered = append(o.delivered, sig)
	}

	o.running = true
	onRun := o.OnRun
	exit := o.ExitWhileRunning
	o.mu.Unlock()

	if onRun != nil {
		onRun(o)
	}

	if exit {
		o.mu.Lock()
		o.exited = true
		o.attached = false
		o.signalStop()
		o.mu.Unlock()
	}

	return nil
}

func (o *FakeTracer) Interrupt(pid int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpInterrupt, pid)
	if err != nil {
		return err
	}

	// Like a real SIGSTOP, the stop stays pending while the
	// process is stopped for another reason.
	if o.attached {
		o.signalStop()
	}

	return nil
}

func (o *FakeTracer) signalStop() {
	select {
	case o.stopped <- struct{}{}:
	default:
	}
}

func (o *FakeTracer) PeekWord(pid int, addr uint64) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpPeek, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		return 0, err
	}

	return o.wordAt(addr)
}

func (o *FakeTracer) wordAt(addr uint64) (uint64, error) {
	if addr%8 != 0 {
		return 0, fmt.Errorf("unaligned fake memory access at 0x%x", addr)
	}

	if o.unmapped[addr] {
		return 0, syscall.EIO
	}

	return o.words[addr], nil
}

func (o *FakeTracer) PokeWord(pid int, addr uint64, word uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpPoke, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		return err
	}

	if o.unmapped[addr] {
		return syscall.EIO
	}

	o.words[addr] = word

	return nil
}

// ReadMemory fails as a whole if any word in the range is unmapped,
// like a read of /proc/<pid>/mem crossing an unmapped page.
func (o *FakeTracer) ReadMemory(pid int, addr uint64, p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpReadMemory, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		return 0, err
	}

	if addr%8 != 0 || len(p)%8 != 0 {
		return 0, fmt.Errorf("unaligned fake memory read of %d bytes at 0x%x", len(p), addr)
	}

	for i := 0; i < len(p); i += 8 {
		word, err := o.wordAt(addr + uint64(i))
		if err != nil {
			return 0, err
		}

		o.byteOrder.PutUint64(p[i:i+8], word)
	}

	return len(p), nil
}

func (o *FakeTracer) Registers(pid int) (process.RegisterSet, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpRegisters, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		return process.RegisterSet{}, err
	}

	return o.regs.Clone(), nil
}

func (o *FakeTracer) SetRegisters(pid int, regs process.RegisterSet) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.begin(OpSetRegisters, pid)
	if err == nil {
		err = o.requireStopped()
	}
	if err != nil {
		return err
	}

	if regs.Layout() != o.layout {
		return fmt.Errorf("register layout mismatch")
	}

	o.regs = regs.Clone()

	return nil
}

func (o *FakeTracer) Layout() *process.Layout {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.layout
}

func (o *FakeTracer) Release(int) {}
