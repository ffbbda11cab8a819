//go:build linux

package process

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// NewTracer returns a ptrace(2) based Tracer.
func NewTracer() (Tracer, error) {
	return &ptraceTracer{
		memFiles: make(map[int]*os.File),
	}, nil
}

type ptraceTracer struct {
	memFiles map[int]*os.File
}

func (o *ptraceTracer) Attach(pid int) error {
	return unix.PtraceAttach(pid)
}

func (o *ptraceTracer) Detach(pid int) error {
	return unix.PtraceDetach(pid)
}

func (o *ptraceTracer) Wait(pid int) (WaitStatus, error) {
	var status unix.WaitStatus

	for {
		_, err := unix.Wait4(pid, &status, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return WaitStatus{}, err
		}
		break
	}

	ws := WaitStatus{
		Exited:   status.Exited(),
		Signaled: status.Signaled(),
		Stopped:  status.Stopped(),
	}

	switch {
	case ws.Exited:
		ws.ExitCode = status.ExitStatus()
	case ws.Signaled:
		ws.Signal = status.Signal()
	case ws.Stopped:
		ws.Signal = status.StopSignal()
	}

	return ws, nil
}

func (o *ptraceTracer) Continue(pid int, sig syscall.Signal) error {
	return unix.PtraceCont(pid, int(sig))
}

// Interrupt directs SIGSTOP at the traced thread only. A process-wide
// SIGSTOP could be taken by an untraced thread and leave the whole
// process group-stopped after detaching.
func (o *ptraceTracer) Interrupt(pid int) error {
	return unix.Tgkill(pid, pid, unix.SIGSTOP)
}

func (o *ptraceTracer) PeekWord(pid int, addr uint64) (uint64, error) {
	if addr > math.MaxUint64-8 {
		return 0, unix.EFAULT
	}

	b := make([]byte, 8)

	n, err := unix.PtracePeekData(pid, uintptr(addr), b)
	if err != nil {
		return 0, err
	}

	if n != len(b) {
		return 0, fmt.Errorf("short read of %d bytes at 0x%x", n, addr)
	}

	return binary.NativeEndian.Uint64(b), nil
}

func (o *ptraceTracer) PokeWord(pid int, addr uint64, word uint64) error {
	b := make([]byte, 8)
	binary.NativeEndian.PutUint64(b, word)

	n, err := unix.PtracePokeData(pid, uintptr(addr), b)
	if err != nil {
		return err
	}

	if n != len(b) {
		return fmt.Errorf("short write of %d bytes at 0x%x", n, addr)
	}

	return nil
}

// ReadMemory reads through /proc/<pid>/mem, which is far cheaper than
// one PTRACE_PEEKDATA per word when scanning whole regions.
func (o *ptraceTracer) ReadMemory(pid int, addr uint64, p []byte) (int, error) {
	if addr > math.MaxInt64 {
		return 0, unix.EIO
	}

	f, err := o.memFile(pid)
	if err != nil {
		return 0, err
	}

	return f.ReadAt(p, int64(addr))
}

func (o *ptraceTracer) memFile(pid int) (*os.File, error) {
	f, ok := o.memFiles[pid]
	if ok {
		return f, nil
	}

	f, err := os.Open(fmt.Sprintf("/proc/%d/mem", pid))
	if err != nil {
		return nil, err
	}

	o.memFiles[pid] = f

	return f, nil
}

func (o *ptraceTracer) Registers(pid int) (RegisterSet, error) {
	return getRegisters(pid)
}

func (o *ptraceTracer) SetRegisters(pid int, regs RegisterSet) error {
	if regs.Layout() != nativeLayout {
		return fmt.Errorf("register set layout %q does not match this system", layoutArch(regs.Layout()))
	}

	return setRegisters(pid, regs)
}

func (o *ptraceTracer) Layout() *Layout {
	return nativeLayout
}

func (o *ptraceTracer) Release(pid int) {
	f, ok := o.memFiles[pid]
	if !ok {
		return
	}

	_ = f.Close()
	delete(o.memFiles, pid)
}

func layoutArch(l *Layout) string {
	if l == nil {
		return "none"
	}
	return l.Arch()
}
