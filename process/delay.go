package process

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"time"
)

// RunFor resumes the process, lets it run for delay and then stops it
// again so that its state can be modified.
//
// The stop is requested by a timer sending SIGSTOP. Signal delivery is
// best effort, so the process may run slightly longer than delay.
// Other signals received while the process runs are passed through to
// it. If the process exits before it is stopped, ErrTargetGone is
// returned and the session makes no further tracing calls.
func (o *Session) RunFor(delay time.Duration) error {
	err := o.requireStopped()
	if err != nil {
		return err
	}

	if delay < 0 {
		return fmt.Errorf("delay cannot be negative - got %s", delay)
	}

	err = o.tracer.Continue(o.pid, 0)
	if err != nil {
		return fmt.Errorf("failed to resume pid %d - %w", o.pid, o.checkGone(err))
	}

	o.state = StateRunning
	o.logf("pid %d resumed for %s", o.pid, delay)

	var fired atomic.Bool
	timer := time.AfterFunc(delay, func() {
		fired.Store(true)
		// The process may already be gone. Wait reports that.
		_ = o.tracer.Interrupt(o.pid)
	})
	defer timer.Stop()

	var sig syscall.Signal
	for {
		status, err := o.tracer.Wait(o.pid)
		if err != nil {
			return fmt.Errorf("failed to wait for pid %d - %w", o.pid, o.checkGone(err))
		}

		if status.Gone() {
			o.state = StateGone
			return fmt.Errorf("pid %d %s before it could be stopped - %w",
				o.pid, status, ErrTargetGone)
		}

		if !status.Stopped {
			continue
		}

		if status.Signal == syscall.SIGSTOP && fired.Load() {
			sig = status.Signal
			break
		}

		forward := status.Signal
		if forward == syscall.SIGSTOP {
			// Not ours. Forwarding it would leave the process stopped
			// with no timer left to end the wait.
			forward = 0
		}

		o.logf("pid %d %s, resuming with signal %d", o.pid, status, forward)

		err = o.tracer.Continue(o.pid, forward)
		if err != nil {
			return fmt.Errorf("failed to resume pid %d after %s - %w", o.pid, status, o.checkGone(err))
		}
	}

	o.state = StateStopped
	o.logf("pid %d stopped by %s after %s", o.pid, sig, delay)

	return nil
}
