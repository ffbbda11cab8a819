package process

import (
	"errors"
	"fmt"
	"log"
	"syscall"
)

var (
	// ErrPermissionDenied is returned when the caller may not trace
	// the process, including when another tracer is already attached.
	ErrPermissionDenied = errors.New("permission denied")

	ErrNoSuchProcess = errors.New("no such process")

	// ErrTargetGone is returned when the process exits while a Session
	// is attached to it.
	ErrTargetGone = errors.New("target process is gone")

	// ErrNotStopped is returned by memory and register operations
	// unless the process is attached and stopped.
	ErrNotStopped = errors.New("target process is not attached and stopped")
)

type State int

const (
	StateAttached State = iota
	StateRunning
	StateStopped
	StateDetached
	StateGone
)

func (o State) String() string {
	switch o {
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDetached:
		return "detached"
	case StateGone:
		return "gone"
	default:
		return fmt.Sprintf("State(%d)", int(o))
	}
}

// AttachConfig configures Attach.
type AttachConfig struct {
	// Tracer is the tracing implementation. NewTracer is used
	// when nil.
	Tracer Tracer

	// Verbose optionally logs each step of the session.
	Verbose *log.Logger
}

// AttachOrExit calls Attach, invoking DefaultExitFn on error.
func AttachOrExit(pid int, config AttachConfig) *Session {
	s, err := Attach(pid, config)
	if err != nil {
		DefaultExitFn(err)
	}
	return s
}

// Attach takes exclusive control of a process and blocks until the
// kernel reports it stopped.
//
// The returned Session must be released with Detach on every path,
// otherwise the process stays stopped.
func Attach(pid int, config AttachConfig) (*Session, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("%w: invalid pid %d", ErrNoSuchProcess, pid)
	}

	tracer := config.Tracer
	if tracer == nil {
		var err error
		tracer, err = NewTracer()
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		pid:     pid,
		tracer:  tracer,
		verbose: config.Verbose,
	}

	err := tracer.Attach(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to pid %d - %w", pid, classifyErrno(err))
	}

	s.logf("attached to pid %d, waiting for it to stop", pid)

	status, err := s.waitStop()
	if err != nil {
		s.state = StateAttached
		detachErr := s.Detach()
		return nil, errors.Join(
			fmt.Errorf("failed to wait for pid %d to stop - %w", pid, classifyErrno(err)),
			detachErr)
	}

	if status.Gone() {
		s.state = StateGone
		tracer.Release(pid)
		return nil, fmt.Errorf("pid %d %s while attaching - %w", pid, status, ErrTargetGone)
	}

	s.state = StateAttached
	s.logf("pid %d is %s", pid, status)

	return s, nil
}

// Session is an exclusive attachment to a process.
type Session struct {
	pid     int
	tracer  Tracer
	state   State
	verbose *log.Logger
}

func (o *Session) PID() int {
	return o.pid
}

func (o *Session) State() State {
	return o.state
}

// Layout describes the register sets of this session.
func (o *Session) Layout() *Layout {
	return o.tracer.Layout()
}

// Stopped reports whether memory and registers may be accessed.
func (o *Session) Stopped() bool {
	return o.state == StateAttached || o.state == StateStopped
}

func (o *Session) requireStopped() error {
	if !o.Stopped() {
		return fmt.Errorf("pid %d is %s - %w", o.pid, o.state, ErrNotStopped)
	}
	return nil
}

// ReadWord reads the 64-bit word at addr.
func (o *Session) ReadWord(addr uint64) (uint64, error) {
	err := o.requireStopped()
	if err != nil {
		return 0, err
	}

	word, err := o.tracer.PeekWord(o.pid, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to read word at 0x%x - %w", addr, o.checkGone(err))
	}

	return word, nil
}

// WriteWord writes the 64-bit word at addr.
func (o *Session) WriteWord(addr uint64, word uint64) error {
	err := o.requireStopped()
	if err != nil {
		return err
	}

	err = o.tracer.PokeWord(o.pid, addr, word)
	if err != nil {
		return fmt.Errorf("failed to write word at 0x%x - %w", addr, o.checkGone(err))
	}

	return nil
}

// ReadMemory reads len(p) bytes at addr. A short read returns an error.
func (o *Session) ReadMemory(addr uint64, p []byte) (int, error) {
	err := o.requireStopped()
	if err != nil {
		return 0, err
	}

	n, err := o.tracer.ReadMemory(o.pid, addr, p)
	if err != nil {
		return n, fmt.Errorf("failed to read %d bytes at 0x%x - %w", len(p), addr, o.checkGone(err))
	}

	return n, nil
}

// Registers reads the process' complete register set.
func (o *Session) Registers() (RegisterSet, error) {
	err := o.requireStopped()
	if err != nil {
		return RegisterSet{}, err
	}

	regs, err := o.tracer.Registers(o.pid)
	if err != nil {
		return RegisterSet{}, fmt.Errorf("failed to read registers - %w", o.checkGone(err))
	}

	return regs, nil
}

// SetRegisters writes the complete register set. The platform offers no
// partial register writes.
func (o *Session) SetRegisters(regs RegisterSet) error {
	err := o.requireStopped()
	if err != nil {
		return err
	}

	err = o.tracer.SetRegisters(o.pid, regs)
	if err != nil {
		return fmt.Errorf("failed to write registers - %w", o.checkGone(err))
	}

	return nil
}

// DetachOrExit calls Detach, invoking DefaultExitFn on error.
func (o *Session) DetachOrExit() {
	err := o.Detach()
	if err != nil {
		DefaultExitFn(err)
	}
}

// Detach resumes the process and releases it. Calling Detach more than
// once is safe; the process is detached exactly once. No tracing calls
// are made when the process is gone.
func (o *Session) Detach() error {
	switch o.state {
	case StateDetached:
		return nil
	case StateGone:
		o.tracer.Release(o.pid)
		return nil
	case StateRunning:
		// PTRACE_DETACH requires a stopped tracee.
		err := o.stopRunning()
		if err != nil {
			o.tracer.Release(o.pid)
			if errors.Is(err, ErrTargetGone) {
				return nil
			}
			o.state = StateDetached
			return err
		}
	}

	defer o.tracer.Release(o.pid)

	err := o.tracer.Detach(o.pid)
	o.state = StateDetached
	if err != nil {
		return fmt.Errorf("failed to detach from pid %d - %w", o.pid, classifyErrno(err))
	}

	o.logf("detached from pid %d", o.pid)

	return nil
}

func (o *Session) stopRunning() error {
	err := o.tracer.Interrupt(o.pid)
	if err != nil {
		return fmt.Errorf("failed to stop pid %d before detaching - %w", o.pid, o.checkGone(err))
	}

	status, err := o.waitStop()
	if err != nil {
		return fmt.Errorf("failed to wait for pid %d before detaching - %w", o.pid, o.checkGone(err))
	}

	if status.Gone() {
		o.state = StateGone
		return ErrTargetGone
	}

	o.state = StateStopped

	return nil
}

// waitStop waits for the SIGSTOP sent by attaching or by Interrupt.
// A different signal may stop the process first. It is re-injected
// and waiting continues, otherwise the signal would be lost and the
// SIGSTOP would stay pending until after the process is detached.
func (o *Session) waitStop() (WaitStatus, error) {
	for {
		status, err := o.tracer.Wait(o.pid)
		if err != nil {
			return WaitStatus{}, err
		}

		switch {
		case status.Gone():
			return status, nil
		case !status.Stopped:
			continue
		case status.Signal == syscall.SIGSTOP:
			return status, nil
		}

		o.logf("pid %d %s while waiting for SIGSTOP, re-injecting it", o.pid, status)

		err = o.tracer.Continue(o.pid, status.Signal)
		if err != nil {
			return WaitStatus{}, err
		}
	}
}

// checkGone marks the session gone when err says the process no
// longer exists.
func (o *Session) checkGone(err error) error {
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.ECHILD) {
		o.state = StateGone
		return fmt.Errorf("%w (%s)", ErrTargetGone, err)
	}
	return err
}

func (o *Session) logf(format string, args ...interface{}) {
	if o.verbose != nil {
		o.verbose.Printf(format, args...)
	}
}

func classifyErrno(err error) error {
	var sentinel error
	switch {
	case errors.Is(err, syscall.EPERM):
		sentinel = ErrPermissionDenied
	case errors.Is(err, syscall.ESRCH):
		sentinel = ErrNoSuchProcess
	default:
		return err
	}

	if err.Error() == sentinel.Error() {
		return sentinel
	}

	return fmt.Errorf("%w (%w)", sentinel, err)
}
