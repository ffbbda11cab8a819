package process

import (
	"errors"
	"strconv"
	"syscall"
)

var (
	// ErrUnsupportedPlatform is returned by NewTracer on systems
	// without ptrace support.
	ErrUnsupportedPlatform = errors.New("process tracing is not supported on this platform")

	// ErrUnsupportedArch is returned by register operations on CPU
	// architectures without a register layout.
	ErrUnsupportedArch = errors.New("registers are not supported on this architecture")
)

// Tracer abstracts the operating system's process tracing facility.
//
// Implementations are not safe for concurrent use. On Linux, every
// method except Interrupt must be called from the OS thread that
// called Attach (see runtime.LockOSThread).
type Tracer interface {
	// Attach requests exclusive control of the process. It does not
	// wait for the process to stop.
	Attach(pid int) error

	// Detach resumes a stopped process and releases control of it.
	Detach(pid int) error

	// Wait blocks until the state of the process changes.
	Wait(pid int) (WaitStatus, error)

	// Continue resumes a stopped process, delivering sig if it is
	// not zero.
	Continue(pid int, sig syscall.Signal) error

	// Interrupt asks a running process to stop. It may be called
	// from any goroutine.
	Interrupt(pid int) error

	// PeekWord reads the 64-bit word at addr.
	PeekWord(pid int, addr uint64) (uint64, error)

	// PokeWord writes the 64-bit word at addr.
	PokeWord(pid int, addr uint64, word uint64) error

	// ReadMemory reads len(p) bytes starting at addr.
	ReadMemory(pid int, addr uint64, p []byte) (int, error)

	// Registers reads the complete register set.
	Registers(pid int) (RegisterSet, error)

	// SetRegisters writes the complete register set.
	SetRegisters(pid int, regs RegisterSet) error

	// Layout describes the register set returned by Registers.
	Layout() *Layout

	// Release frees any resources held for the process. It does
	// not interact with the process itself.
	Release(pid int)
}

// WaitStatus is a decoded wait(2) status.
type WaitStatus struct {
	Exited   bool
	Signaled bool
	Stopped  bool
	ExitCode int

	// Signal is the stop signal when Stopped, or the terminating
	// signal when Signaled.
	Signal syscall.Signal
}

// Gone reports whether the process has terminated.
func (o WaitStatus) Gone() bool {
	return o.Exited || o.Signaled
}

func (o WaitStatus) String() string {
	switch {
	case o.Exited:
		return "exited with status " + strconv.Itoa(o.ExitCode)
	case o.Signaled:
		return "killed by " + o.Signal.String()
	case o.Stopped:
		return "stopped by " + o.Signal.String()
	default:
		return "running"
	}
}
