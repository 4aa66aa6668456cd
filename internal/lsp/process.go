package lsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/dshills/lspsession/internal/logging"
)

// ProcessState represents the lifecycle of a language server process.
type ProcessState int32

const (
	// ProcessCreated indicates the process has been built but not started.
	ProcessCreated ProcessState = iota
	// ProcessRunning indicates the process is running.
	ProcessRunning
	// ProcessExited indicates the process exited on its own.
	ProcessExited
	// ProcessKilled indicates the process was terminated by a signal.
	ProcessKilled
)

// String returns a human-readable state name.
func (s ProcessState) String() string {
	switch s {
	case ProcessCreated:
		return "created"
	case ProcessRunning:
		return "running"
	case ProcessExited:
		return "exited"
	case ProcessKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ServerConfig describes how to launch a language server.
type ServerConfig struct {
	// Name identifies the server in logs, usually the file type.
	Name string

	// Command is a shell-style command line, e.g. "pyrefly lsp".
	Command string

	// Env are additional environment variables.
	Env map[string]string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// LanguageID is sent in didOpen. Empty means detect from the path.
	LanguageID string
}

// SplitCommand splits a shell-style command line into the program and its
// arguments.
func SplitCommand(command string) (string, []string, error) {
	parts, err := shlex.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("parse command %q: empty command", command)
	}
	return parts[0], parts[1:], nil
}

// Process is a spawned language server with piped stdin and stdout.
//
// Stdin and Stdout are handed to a Transport, which then owns them. Stderr
// is drained line by line into the logger. Process is safe for concurrent
// use.
type Process struct {
	// ID is a unique identifier for this process.
	ID string

	// Name is the configured server name.
	Name string

	// Started is the time the process was started.
	Started time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	log *logging.Logger
}

// StartProcess spawns the server described by cfg.
//
// Failures are reported as *TransportError.
func StartProcess(cfg ServerConfig, log *logging.Logger) (*Process, error) {
	if log == nil {
		log = logging.Nop()
	}

	name, args, err := SplitCommand(cfg.Command)
	if err != nil {
		return nil, &TransportError{Op: "spawn", Err: err}
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &TransportError{Op: "stdin pipe", Err: err}
	}

	// os.Pipe rather than StdoutPipe: Wait must not close the read side
	// before the reader has drained it.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, &TransportError{Op: "stdout pipe", Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, &TransportError{Op: "stderr pipe", Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, &TransportError{Op: "spawn " + name, Err: err}
	}

	// The child holds its own copies now.
	stdoutW.Close()
	stderrW.Close()

	p := &Process{
		ID:      uuid.New().String(),
		Name:    cfg.Name,
		Started: time.Now(),
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdoutR,
		done:    make(chan struct{}),
		log:     log.WithField("pid", cmd.Process.Pid),
	}
	p.exitCode.Store(-1)
	p.state.Store(int32(ProcessRunning))

	go p.drainStderr(stderrR)
	go p.waitLoop()

	p.log.Debug("started %s %v", name, args)
	return p, nil
}

// Stdin returns the write side of the server's stdin.
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout returns the read side of the server's stdout.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// State returns the current process state.
func (p *Process) State() ProcessState {
	return ProcessState(p.state.Load())
}

// IsRunning returns true if the process has not exited.
func (p *Process) IsRunning() bool {
	return p.State() == ProcessRunning
}

// ExitCode returns the exit code, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() {
		return fmt.Errorf("signal %v: process not running", sig)
	}
	return p.cmd.Process.Signal(sig)
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Wait waits for the process to exit. If ctx ends first the process is
// killed and Wait returns once it has been reaped.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	p.log.Warn("server did not exit in time, killing")
	if err := p.Kill(); err != nil && p.IsRunning() {
		return &TransportError{Op: "kill", Err: err}
	}
	<-p.done
	return ctx.Err()
}

// Close releases the stdout handle. It does not stop the process.
func (p *Process) Close() error {
	if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close stdout: %w", err)
	}
	return nil
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	return time.Since(p.Started)
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	exitCode := 0
	state := ProcessExited

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = ProcessKilled
			}
		} else {
			exitCode = -1
		}
	}

	p.exitCode.Store(int32(exitCode))
	p.state.Store(int32(state))
	p.log.Debug("server %s (code %d)", state, exitCode)
	close(p.done)
}

func (p *Process) drainStderr(r io.ReadCloser) {
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.log.Debug("stderr: %s", scanner.Text())
	}
}
