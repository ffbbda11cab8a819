package inject

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gitlab.com/faultkit/faultkit/asmkit"
	"gitlab.com/faultkit/faultkit/fault"
	"gitlab.com/faultkit/faultkit/memory"
	"gitlab.com/faultkit/faultkit/process"
	"gitlab.com/faultkit/faultkit/procmaps"
)

// ErrVerifyFailed is returned when the value read back after the
// write differs from the corrupted value.
var ErrVerifyFailed = errors.New("read-back does not match the corrupted value")

// Engine performs injections. The zero value is ready to use.
type Engine struct {
	// Tracer is the tracing implementation. process.NewTracer is
	// used when nil.
	Tracer process.Tracer

	// Maps reads the memory map of a process. procmaps.Read is
	// used when nil.
	Maps func(pid int) ([]procmaps.Region, error)

	// Rand resolves the random choices of fault specs. The global
	// source is used when nil.
	Rand *rand.Rand

	// Disassembler optionally decodes the instruction at a corrupted
	// code word or program counter.
	Disassembler *asmkit.Disassembler

	// Logger optionally logs every step of an injection.
	Logger *log.Logger
}

// InjectOrExit calls Inject, invoking DefaultExitFn on error.
func (o Engine) InjectOrExit(req Request) Result {
	result, err := o.Inject(req)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to inject fault - %w", err))
	}
	return result
}

// Inject performs one injection.
//
// Requests are validated before the target is touched. Once attached,
// the target is detached before Inject returns, whatever happens; a
// detach failure is joined to the returned error. The Result is
// populated as far as the injection got, also on error.
func (o Engine) Inject(req Request) (Result, error) {
	result := Result{
		ID:       uuid.NewString(),
		PID:      req.PID,
		Register: req.Register,
		Fault:    req.Fault,
		Started:  time.Now(),
	}

	stages := &stageCtl{logger: o.Logger}

	err := o.inject(req, &result, stages)

	result.Elapsed = time.Since(result.Started)
	result.Transitions = stages.transitions

	if err != nil {
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result, err
	}

	return result, nil
}

func (o Engine) inject(req Request, result *Result, stages *stageCtl) error {
	err := req.Validate()
	if err != nil {
		return err
	}

	tracer := o.Tracer
	if tracer == nil {
		tracer, err = process.NewTracer()
		if err != nil {
			return err
		}
	}

	regIndex := -1
	if req.RegisterMode() {
		regIndex, err = resolveRegister(tracer.Layout(), req.Register)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		result.Register = tracer.Layout().Name(regIndex)
	}

	// Every ptrace request must come from the thread that attached.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stages.next(StateAttaching, fmt.Sprintf("pid %d", req.PID))

	session, err := process.Attach(req.PID, process.AttachConfig{
		Tracer:  tracer,
		Verbose: o.Logger,
	})
	if err != nil {
		stages.next(StateIdle, "attach failed")
		return err
	}

	stages.next(StateAttached)

	if req.RegisterMode() {
		err = o.corruptRegister(session, req, regIndex, result, stages)
	} else {
		err = o.corruptMemory(session, req, result, stages)
	}

	detachErr := session.Detach()
	if detachErr != nil {
		detachErr = fmt.Errorf("failed to detach - %w", detachErr)
	}

	stages.next(StateDetached)
	stages.next(StateIdle)

	return errors.Join(err, detachErr)
}

func resolveRegister(layout *process.Layout, name string) (int, error) {
	if layout == nil {
		return 0, fmt.Errorf("register injection is not supported on %s - %w",
			runtime.GOARCH, process.ErrUnsupportedArch)
	}

	return layout.Resolve(name)
}

func (o Engine) corruptMemory(session *process.Session, req Request, result *Result, stages *stageCtl) error {
	maps := o.Maps
	if maps == nil {
		maps = procmaps.Read
	}

	regions, err := maps(req.PID)
	if err != nil {
		return fmt.Errorf("failed to read memory map - %w", err)
	}

	target, err := o.locate(session, req, regions)
	if err != nil {
		return err
	}

	result.Address = Word(target.Address)
	result.Region = &target.Region

	o.logf("target word is %s", target)

	err = o.delay(session, req, stages)
	if err != nil {
		return err
	}

	stages.next(StateCorrupting, target.String())

	original, err := session.ReadWord(target.Address)
	if err != nil {
		return err
	}

	spec := req.Fault.Resolve(o.Rand)
	corrupted := fault.Apply(original, spec)

	result.Fault = spec
	result.Original = Word(original)
	result.Corrupted = Word(corrupted)

	o.logf("writing %s over %s at 0x%x (%s)",
		memory.FormatWord(corrupted), memory.FormatWord(original), target.Address, spec.Describe())

	err = session.WriteWord(target.Address, corrupted)
	if err != nil {
		return err
	}

	result.Outcome = OutcomeInjected

	if target.Region.Perms.Execute {
		result.Instruction = o.decodeWords(target.Address, original, corrupted)
	}

	if !req.Verify {
		return nil
	}

	readBack, err := session.ReadWord(target.Address)
	if err != nil {
		return fmt.Errorf("failed to verify - %w", err)
	}

	return o.verify(result, readBack)
}

func (o Engine) locate(session *process.Session, req Request, regions []procmaps.Region) (memory.Target, error) {
	switch {
	case req.Region == memory.SelectManual:
		r, ok := procmaps.Find(regions, req.Address)
		if !ok {
			return memory.Target{}, fmt.Errorf("%w: 0x%x is not mapped", memory.ErrRegionNotFound, req.Address)
		}
		return memory.Target{Address: req.Address, Region: r}, nil
	case req.Signature != nil:
		return memory.Locator{
			Reader:  session,
			Verbose: o.Logger,
		}.Scan(regions, req.Region, *req.Signature)
	default:
		return memory.Blind(regions, req.Region)
	}
}

func (o Engine) corruptRegister(session *process.Session, req Request, index int, result *Result, stages *stageCtl) error {
	err := o.delay(session, req, stages)
	if err != nil {
		return err
	}

	stages.next(StateCorrupting, result.Register)

	regs, err := session.Registers()
	if err != nil {
		return err
	}

	original := regs.Get(index)
	spec := req.Fault.Resolve(o.Rand)
	corrupted := fault.Apply(original, spec)

	result.Fault = spec
	result.Original = Word(original)
	result.Corrupted = Word(corrupted)

	o.logf("writing %s over %s in %s (%s)",
		memory.FormatWord(corrupted), memory.FormatWord(original), result.Register, spec.Describe())

	regs.Set(index, corrupted)

	err = session.SetRegisters(regs)
	if err != nil {
		return err
	}

	result.Outcome = OutcomeInjected

	if pc, err := regs.Layout().Resolve("PC"); err == nil && pc == index {
		result.Instruction = o.decodeAt(session, corrupted)
	}

	if !req.Verify {
		return nil
	}

	regs, err = session.Registers()
	if err != nil {
		return fmt.Errorf("failed to verify - %w", err)
	}

	return o.verify(result, regs.Get(index))
}

func (o Engine) delay(session *process.Session, req Request, stages *stageCtl) error {
	if req.Delay <= 0 {
		return nil
	}

	stages.next(StateRunning, req.Delay.String())

	err := session.RunFor(req.Delay)
	if err != nil {
		return err
	}

	stages.next(StateStopped)

	return nil
}

func (o Engine) verify(result *Result, readBack uint64) error {
	w := Word(readBack)
	result.ReadBack = &w

	if w != result.Corrupted {
		result.Outcome = OutcomeFailed
		return fmt.Errorf("%w: wrote %s - read %s", ErrVerifyFailed, result.Corrupted, w)
	}

	result.Outcome = OutcomeVerified

	return nil
}

// decodeWords decodes the first instruction of a code word before and
// after corruption.
func (o Engine) decodeWords(addr uint64, original uint64, corrupted uint64) *Instruction {
	if o.Disassembler == nil {
		return nil
	}

	codec := memory.NativeCodec()

	inst := &Instruction{Address: Word(addr)}
	inst.Before = o.decode(codec.Bytes(original))
	inst.After = o.decode(codec.Bytes(corrupted))

	return inst
}

// decodeAt decodes the instruction a program counter points to.
func (o Engine) decodeAt(session *process.Session, pc uint64) *Instruction {
	if o.Disassembler == nil {
		return nil
	}

	// Reads are word aligned. Read enough to cover the longest
	// instruction starting anywhere in the first word.
	base := pc &^ (memory.WordSize - 1)
	buf := make([]byte, 3*memory.WordSize)

	_, err := session.ReadMemory(base, buf)
	if err != nil {
		o.logf("cannot read instruction at new pc 0x%x - %s", pc, err)
		return &Instruction{Address: Word(pc), After: "(unreadable)"}
	}

	return &Instruction{
		Address: Word(pc),
		After:   o.decode(buf[pc-base:]),
	}
}

func (o Engine) decode(p []byte) string {
	inst, err := o.Disassembler.Next(p)
	if err != nil {
		return "(bad)"
	}
	return inst.Dis
}

func (o Engine) logf(format string, args ...interface{}) {
	if o.Logger != nil {
		o.Logger.Printf(format, args...)
	}
}
