package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const maxToolLine = 1 << 20

// toolProcess is an external tool whose stdout is consumed line by line.
type toolProcess struct {
	path string
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

// startTool launches path with args and calls onLine for every stdout line, newline
// stripped, from a dedicated goroutine. The goroutine reaps the process after EOF.
func startTool(path string, args []string, onLine func(line string)) (*toolProcess, error) {
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe for %s: %v", ErrIO, path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrIO, path, err)
	}

	t := &toolProcess{path: path, cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(t.done)

		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 64*1024), maxToolLine)
		for sc.Scan() {
			onLine(sc.Text())
		}
		scanErr := sc.Err()
		waitErr := cmd.Wait()

		t.mu.Lock()
		t.exitErr = errors.Join(scanErr, waitErr)
		t.mu.Unlock()
	}()
	return t, nil
}

func (t *toolProcess) Pid() int { return t.cmd.Process.Pid }

// Exited reports whether the tool has exited and its output has been drained.
func (t *toolProcess) Exited() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the exit status once the tool has exited.
func (t *toolProcess) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitErr
}

// wait blocks until the tool exits on its own. If ctx ends first the tool is stopped
// and ctx's error is returned.
func (t *toolProcess) wait(ctx context.Context, grace time.Duration) error {
	select {
	case <-t.done:
		if err := t.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrIO, t.path, err)
		}
		return nil
	case <-ctx.Done():
		_ = t.stop(grace)
		return fmt.Errorf("%w: %s: %w", ErrIO, t.path, ctx.Err())
	}
}

// stop asks the tool to terminate and kills it if it is still running after grace.
// A kill is reported as ErrShutdownTimeout.
func (t *toolProcess) stop(grace time.Duration) error {
	if t.Exited() {
		return nil
	}

	proc, err := process.NewProcess(int32(t.Pid()))
	if err == nil {
		err = proc.Terminate()
	}
	if err != nil {
		// the process may already be gone or not visible to gopsutil
		_ = t.cmd.Process.Signal(syscall.SIGTERM)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
	}

	if proc != nil {
		err = proc.Kill()
	}
	if proc == nil || err != nil {
		_ = t.cmd.Process.Kill()
	}
	<-t.done
	return fmt.Errorf("%w: %s did not exit within %s", ErrShutdownTimeout, t.path, grace)
}
