package process_test

import (
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/faultkit/faultkit/process"
	"gitlab.com/faultkit/faultkit/process/tracertest"
)

const testPID = 4242

func attach(t *testing.T, tracer *tracertest.FakeTracer) *process.Session {
	t.Helper()

	s, err := process.Attach(testPID, process.AttachConfig{Tracer: tracer})
	require.NoError(t, err)
	require.Equal(t, process.StateAttached, s.State())

	return s
}

func TestAttach_PermissionDenied(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.FailOn(tracertest.OpAttach, syscall.EPERM)

	_, err := process.Attach(testPID, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, process.ErrPermissionDenied)
	require.Zero(t, tracer.Calls(tracertest.OpDetach))
}

func TestAttach_NoSuchProcess(t *testing.T) {
	tracer := tracertest.New(testPID)

	_, err := process.Attach(testPID+1, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, process.ErrNoSuchProcess)

	require.Equal(t, 1, strings.Count(err.Error(), "no such process"), err.Error())
	require.Equal(t, 1, strings.Count(err.Error(), "pid"), err.Error())

	_, err = process.Attach(0, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, process.ErrNoSuchProcess)
}

func TestAttach_PermissionDeniedKeepsErrno(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.FailOn(tracertest.OpAttach, syscall.EPERM)

	_, err := process.Attach(testPID, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, process.ErrPermissionDenied)
	require.ErrorIs(t, err, syscall.EPERM)
}

func TestAttach_ReinjectsOtherSignals(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.QueueSignal(syscall.SIGCHLD)
	tracer.QueueSignal(syscall.SIGURG)

	s := attach(t, tracer)
	defer s.Detach()

	require.Equal(t, []syscall.Signal{syscall.SIGCHLD, syscall.SIGURG}, tracer.Delivered())
	require.Equal(t, 2, tracer.Calls(tracertest.OpContinue))

	_, err := s.ReadWord(0)
	require.NoError(t, err)
}

func TestAttach_SecondSessionFails(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)
	defer s.Detach()

	_, err := process.Attach(testPID, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, process.ErrPermissionDenied)
}

func TestAttach_WaitFailureDetaches(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.FailOn(tracertest.OpWait, nil)

	_, err := process.Attach(testPID, process.AttachConfig{Tracer: tracer})
	require.ErrorIs(t, err, tracertest.ErrInjected)
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))
	require.False(t, tracer.Attached())
}

func TestSession_ReadWriteWord(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.SetWord(0x1000, 0xdeadbeefcafebabe)

	s := attach(t, tracer)

	word, err := s.ReadWord(0x1000)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafebabe), word)

	require.NoError(t, s.WriteWord(0x1000, 1))
	require.Equal(t, uint64(1), tracer.Word(0x1000))

	require.NoError(t, s.Detach())
	require.Equal(t, process.StateDetached, s.State())

	_, err = s.ReadWord(0x1000)
	require.ErrorIs(t, err, process.ErrNotStopped)
}

func TestSession_DetachIsIdempotent(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach())
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))
	require.False(t, tracer.Attached())
}

func TestSession_DetachFailureIsReported(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)

	tracer.FailOn(tracertest.OpDetach, nil)

	err := s.Detach()
	require.ErrorIs(t, err, tracertest.ErrInjected)
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))

	// A failed detach is not retried.
	require.NoError(t, s.Detach())
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))
}

func TestSession_Registers(t *testing.T) {
	tracer := tracertest.New(testPID)
	require.NoError(t, tracer.SetRegister("X3", 41))

	s := attach(t, tracer)
	defer s.Detach()

	regs, err := s.Registers()
	require.NoError(t, err)

	i, err := regs.Layout().Resolve("x3")
	require.NoError(t, err)
	require.Equal(t, uint64(41), regs.Get(i))

	regs.Set(i, 42)
	require.NoError(t, s.SetRegisters(regs))

	v, err := tracer.Register("X3")
	require.NoError(t, err)
	require.Equal(t, uint64(42), v)
}

func TestSession_RunFor(t *testing.T) {
	tracer := tracertest.New(testPID)

	var runs int
	tracer.OnRun = func(*tracertest.FakeTracer) {
		runs++
	}

	s := attach(t, tracer)
	defer s.Detach()

	start := time.Now()
	require.NoError(t, s.RunFor(20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.Equal(t, process.StateStopped, s.State())
	require.Equal(t, 1, runs)
	require.Equal(t, 1, tracer.Calls(tracertest.OpInterrupt))

	_, err := s.ReadWord(0)
	require.NoError(t, err)
}

func TestSession_RunForTargetExits(t *testing.T) {
	tracer := tracertest.New(testPID)
	tracer.ExitWhileRunning = true

	s := attach(t, tracer)

	err := s.RunFor(time.Hour)
	require.ErrorIs(t, err, process.ErrTargetGone)
	require.Equal(t, process.StateGone, s.State())

	peeks := tracer.Calls(tracertest.OpPeek)
	_, err = s.ReadWord(0)
	require.ErrorIs(t, err, process.ErrNotStopped)
	require.Equal(t, peeks, tracer.Calls(tracertest.OpPeek))

	require.NoError(t, s.Detach())
	require.Zero(t, tracer.Calls(tracertest.OpDetach))
}

func TestSession_DetachWhileRunningStopsFirst(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)

	tracer.FailOn(tracertest.OpWait, syscall.EINVAL)

	err := s.RunFor(time.Hour)
	require.ErrorIs(t, err, syscall.EINVAL)
	require.Equal(t, process.StateRunning, s.State())

	tracer.ClearFailure(tracertest.OpWait)

	require.NoError(t, s.Detach())
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))
	require.False(t, tracer.Attached())
}

func TestSession_RunForForwardsSignals(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)
	defer s.Detach()

	tracer.QueueSignal(syscall.SIGUSR1)

	require.NoError(t, s.RunFor(20*time.Millisecond))
	require.Equal(t, process.StateStopped, s.State())
	require.Equal(t, []syscall.Signal{syscall.SIGUSR1}, tracer.Delivered())
}

func TestSession_DetachWhileRunningReinjectsSignals(t *testing.T) {
	tracer := tracertest.New(testPID)
	s := attach(t, tracer)

	tracer.FailOn(tracertest.OpWait, syscall.EINVAL)
	require.ErrorIs(t, s.RunFor(time.Hour), syscall.EINVAL)
	tracer.ClearFailure(tracertest.OpWait)

	tracer.QueueSignal(syscall.SIGALRM)

	require.NoError(t, s.Detach())
	require.Equal(t, []syscall.Signal{syscall.SIGALRM}, tracer.Delivered())
	require.Equal(t, 1, tracer.Calls(tracertest.OpDetach))
	require.False(t, tracer.Attached())
}
