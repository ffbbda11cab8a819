//go:build linux && arm64

package process

import (
	"golang.org/x/sys/unix"
)

// NT_PRSTATUS selects the general purpose registers for
// PTRACE_GETREGSET and PTRACE_SETREGSET.
const ntPrstatus = 1

var nativeLayout = ARM64

func getRegisters(pid int) (RegisterSet, error) {
	var raw unix.PtraceRegsArm64

	err := unix.PtraceGetRegSetArm64(pid, ntPrstatus, &raw)
	if err != nil {
		return RegisterSet{}, err
	}

	set := ARM64.NewSet()
	for i, v := range raw.Regs {
		set.Set(i, v)
	}
	set.Set(31, raw.Sp)
	set.Set(32, raw.Pc)

	return set, nil
}

// setRegisters preserves pstate, which is not part of the layout.
func setRegisters(pid int, regs RegisterSet) error {
	var raw unix.PtraceRegsArm64

	err := unix.PtraceGetRegSetArm64(pid, ntPrstatus, &raw)
	if err != nil {
		return err
	}

	for i := range raw.Regs {
		raw.Regs[i] = regs.Get(i)
	}
	raw.Sp = regs.Get(31)
	raw.Pc = regs.Get(32)

	return unix.PtraceSetRegSetArm64(pid, ntPrstatus, &raw)
}
