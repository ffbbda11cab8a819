//go:build linux && amd64

package process

import (
	"golang.org/x/sys/unix"
)

var nativeLayout = AMD64

func amd64Fields(raw *unix.PtraceRegs) []*uint64 {
	return []*uint64{
		&raw.Rax, &raw.Rbx, &raw.Rcx, &raw.Rdx, &raw.Rsi, &raw.Rdi, &raw.Rbp, &raw.Rsp,
		&raw.R8, &raw.R9, &raw.R10, &raw.R11, &raw.R12, &raw.R13, &raw.R14, &raw.R15,
		&raw.Rip, &raw.Eflags,
	}
}

func getRegisters(pid int) (RegisterSet, error) {
	var raw unix.PtraceRegs

	err := unix.PtraceGetRegs(pid, &raw)
	if err != nil {
		return RegisterSet{}, err
	}

	set := AMD64.NewSet()
	for i, field := range amd64Fields(&raw) {
		set.Set(i, *field)
	}

	return set, nil
}

// setRegisters preserves the segment and orig_rax registers, which are
// not part of the layout.
func setRegisters(pid int, regs RegisterSet) error {
	var raw unix.PtraceRegs

	err := unix.PtraceGetRegs(pid, &raw)
	if err != nil {
		return err
	}

	for i, field := range amd64Fields(&raw) {
		*field = regs.Get(i)
	}

	return unix.PtraceSetRegs(pid, &raw)
}
