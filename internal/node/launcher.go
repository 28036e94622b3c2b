// ABOUTME: Launching the node binary as a child process.
// ABOUTME: Launcher/Process abstract os/exec so the supervisor can be driven by fakes in tests.

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// LaunchSpec describes how to run the node.
type LaunchSpec struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the parent environment.
	Env []string
	// Output receives both stdout and stderr.
	Output io.Writer
}

// Process is a running node.
type Process interface {
	Pid() int
	// Terminate asks the process to exit.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// Err returns the exit error once Exited is closed.
	Err() error
}

// Launcher starts node processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs the node with os/exec. The process is not tied to the
// context passed to Launch; the supervisor ends it through Stop.
type ExecLauncher struct{}

// Launch starts the process and returns once it is running.
func (ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...) // #nosec G204 -- binary path comes from operator configuration
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = spec.Output
	cmd.Stderr = spec.Output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Path, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error {
	return ignoreDone(p.cmd.Process.Signal(syscall.SIGTERM))
}

func (p *execProcess) Kill() error {
	return ignoreDone(p.cmd.Process.Kill())
}

func (p *execProcess) Exited() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
