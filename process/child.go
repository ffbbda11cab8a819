package process

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os/exec"
)

// SpawnOrExit calls Spawn, invoking DefaultExitFn on error.
func SpawnOrExit(cmd *exec.Cmd) *Child {
	c, err := Spawn(cmd)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to spawn process - %w", err))
	}
	return c
}

// Spawn starts cmd with its stdin and stdout connected to the returned
// Child. This is useful for starting a fault injection target whose
// output reveals how a fault propagated.
func Spawn(cmd *exec.Cmd) (*Child, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe - %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe - %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start process - %w", err)
	}

	return &Child{
		cmd:    cmd,
		input:  stdin,
		output: bufio.NewReader(stdout),
	}, nil
}

// Child is a process started by Spawn.
//
// Child does not reap the process in the background. A background
// wait(2) would consume the stop notifications that a tracer attached
// to the same process depends on.
type Child struct {
	cmd    *exec.Cmd
	input  io.WriteCloser
	output *bufio.Reader
	logger *log.Logger
}

func (o *Child) PID() int {
	return o.cmd.Process.Pid
}

func (o *Child) SetLogger(logger *log.Logger) {
	o.logger = logger
}

func (o *Child) ReadLineOrExit() []byte {
	p, err := o.ReadLine()
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to read line from pid %d - %w", o.PID(), err))
	}
	return p
}

// ReadLine reads until a newline, which is stripped from the result.
func (o *Child) ReadLine() ([]byte, error) {
	p, err := o.output.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	if o.logger != nil {
		o.logger.Printf("ReadLine read: '%s'", bytes.TrimSpace(p))
	}

	return bytes.TrimRight(p, "\r\n"), nil
}

// ReadUntil blocks until p is found in the process' output, returning
// the data read, including p.
func (o *Child) ReadUntil(p []byte) ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	for {
		b, err := o.output.ReadByte()
		if err != nil {
			return nil, err
		}

		buff.WriteByte(b)
		if bytes.HasSuffix(buff.Bytes(), p) {
			if o.logger != nil {
				o.logger.Printf("ReadUntil found 0x%x", p)
			}
			return buff.Bytes(), nil
		}
	}
}

func (o *Child) WriteLineOrExit(p []byte) {
	err := o.WriteLine(p)
	if err != nil {
		DefaultExitFn(fmt.Errorf("failed to write line to pid %d - %w", o.PID(), err))
	}
}

func (o *Child) WriteLine(p []byte) error {
	if o.logger != nil {
		o.logger.Printf("writing line 0x%x", p)
	}

	_, err := o.input.Write(append(append([]byte(nil), p...), '\n'))
	return err
}

// Wait closes the process' stdin and waits for it to exit.
func (o *Child) Wait() error {
	_ = o.input.Close()
	return o.cmd.Wait()
}

// Close kills the process and reaps it. Errors are ignored because
// a tracer may already have reaped the process.
func (o *Child) Close() error {
	_ = o.input.Close()
	_ = o.cmd.Process.Kill()
	_ = o.cmd.Wait()
	return nil
}
