//go:build linux

package inject_test

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"gitlab.com/faultkit/faultkit/fault"
	"gitlab.com/faultkit/faultkit/inject"
	"gitlab.com/faultkit/faultkit/memory"
	"gitlab.com/faultkit/faultkit/process"
)

const (
	liveTargetEnv = "FAULTKIT_LIVE_TARGET"
	liveCanary    = uint64(0x5eedfacecafebabe)
	liveCanaries  = 32
)

func TestMain(m *testing.M) {
	if os.Getenv(liveTargetEnv) == "1" {
		runLiveTarget()
		return
	}

	os.Exit(m.Run())
}

// runLiveTarget fills a heap array with canaries, prints its address
// and reports every changed canary each time it reads a line.
func runLiveTarget() {
	canaries := make([]uint64, liveCanaries)
	for i := range canaries {
		canaries[i] = liveCanary
	}

	fmt.Printf("%d\n", uintptr(unsafe.Pointer(&canaries[0])))

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		for i, v := range canaries {
			if v != liveCanary {
				fmt.Printf("%d %d\n", i, v)
			}
		}
		fmt.Println("end")
	}

	runtime.KeepAlive(canaries)
	os.Exit(0)
}

func startLiveTarget(t *testing.T) (*process.Child, uint64) {
	t.Helper()

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	cmd.Env = append(os.Environ(), liveTargetEnv+"=1")

	child, err := process.Spawn(cmd)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = child.Close()
	})

	child.SetLogger(log.New(testWriter{t}, "[target] ", 0))

	line, err := child.ReadLine()
	require.NoError(t, err)

	var base uint64
	_, err = fmt.Sscanf(string(line), "%d", &base)
	require.NoError(t, err)

	return child, base
}

type testWriter struct {
	t *testing.T
}

func (o testWriter) Write(p []byte) (int, error) {
	o.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func injectLive(t *testing.T, req inject.Request) inject.Result {
	t.Helper()

	result, err := inject.Engine{}.Inject(req)
	if errors.Is(err, process.ErrPermissionDenied) {
		t.Skipf("ptrace is not permitted here - %s", err)
	}
	require.NoError(t, err)

	return result
}

func changedCanaries(t *testing.T, child *process.Child) map[int]uint64 {
	t.Helper()

	require.NoError(t, child.WriteLine([]byte("check")))

	report, err := child.ReadUntil([]byte("end\n"))
	require.NoError(t, err)

	changed := make(map[int]uint64)
	for _, line := range strings.Split(strings.TrimSuffix(string(report), "end\n"), "\n") {
		if line == "" {
			continue
		}

		var i int
		var v uint64
		_, err = fmt.Sscanf(line, "%d %d", &i, &v)
		require.NoError(t, err)
		changed[i] = v
	}

	return changed
}

func TestLive_HeapSignatureBitFlip(t *testing.T) {
	child, base := startLiveTarget(t)

	sig := liveCanary
	result := injectLive(t, inject.Request{
		PID:       child.PID(),
		Region:    memory.SelectHeap,
		Signature: &sig,
		Fault:     fault.Spec{Kind: fault.BitFlip, Bit: 0},
		Verify:    true,
	})

	require.Equal(t, inject.OutcomeVerified, result.Outcome)
	require.Equal(t, inject.Word(liveCanary^1), *result.ReadBack)

	addr := uint64(result.Address)
	require.GreaterOrEqual(t, addr, base)
	require.Less(t, addr, base+liveCanaries*memory.WordSize)

	changed := changedCanaries(t, child)
	require.Equal(t, map[int]uint64{
		int((addr - base) / memory.WordSize): liveCanary ^ 1,
	}, changed)

	require.NoError(t, child.Wait())
}

func TestLive_DelayedManualWrite(t *testing.T) {
	child, base := startLiveTarget(t)

	result := injectLive(t, inject.Request{
		PID:     child.PID(),
		Region:  memory.SelectManual,
		Address: base + 8,
		Fault:   fault.Spec{Kind: fault.ArithmeticAdd, Addend: 4},
		Delay:   50 * time.Millisecond,
		Verify:  true,
	})

	require.Equal(t, inject.Word(liveCanary), result.Original)
	require.Equal(t, inject.Word(liveCanary+4), result.Corrupted)

	// The target must still be running after the delayed stop.
	changed := changedCanaries(t, child)
	require.Equal(t, map[int]uint64{1: liveCanary + 4}, changed)

	require.NoError(t, child.Wait())
}
