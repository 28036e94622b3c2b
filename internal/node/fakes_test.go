// ABOUTME: Test doubles for the supervisor: a scripted launcher, process and IPC channel.
// ABOUTME: Lets lifecycle and recovery tests run without a real node binary.

package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-peer/internal/ipc"
)

type fakeProcess struct {
	pid        int
	done       chan struct{}
	once       sync.Once
	err        error
	ignoreTerm bool

	terminated atomic.Bool
	killed     atomic.Bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Terminate() error {
	p.terminated.Store(true)
	if !p.ignoreTerm {
		p.exit(errors.New("signal: terminated"))
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killed.Store(true)
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) Exited() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error              { return p.err }

// fakeLauncher records launches. Output is written to the node log on every
// launch; exitImmediately makes each process exit before the handshake.
type fakeLauncher struct {
	mu              sync.Mutex
	specs           []LaunchSpec
	procs           []*fakeProcess
	output          string
	exitImmediately bool
	ignoreTerm      bool
	err             error
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.output != "" && spec.Output != nil {
		_, _ = io.WriteString(spec.Output, l.output)
	}
	p := newFakeProcess(4000 + len(l.procs))
	p.ignoreTerm = l.ignoreTerm
	if l.exitImmediately {
		p.exit(errors.New("exit status 1"))
	}
	l.specs = append(l.specs, spec)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) proc(i int) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[i]
}

func (l *fakeLauncher) spec(i int) LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[i]
}

type readResult struct {
	data []byte
	err  error
}

// fakeChannel is an in-memory ipc.Channel.
type fakeChannel struct {
	connected    bool
	blockConnect bool
	writeErr     error
	onRead       func()
	reads        chan readResult
	closedCh     chan struct{}
	closeOnce    sync.Once

	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		reads:     make(chan readResult, 16),
		closedCh:  make(chan struct{}),
	}
}

func (c *fakeChannel) InPath() string  { return "127.0.0.1:40001" }
func (c *fakeChannel) OutPath() string { return "127.0.0.1:40001" }

func (c *fakeChannel) Connect(ctx context.Context, timeout time.Duration) (bool, error) {
	if c.blockConnect {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return c.connected, nil
}

func (c *fakeChannel) Write(_ context.Context, data []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	if c.onRead != nil {
		c.onRead()
	}
	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-c.closedCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closedCh)
	})
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// channelFactory hands out channels built by configure, one per node start.
type channelFactory struct {
	mu        sync.Mutex
	created   []*fakeChannel
	configure func(n int, ch *fakeChannel)
}

func (f *channelFactory) New(ipc.Kind, *slog.Logger) (ipc.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newFakeChannel()
	if f.configure != nil {
		f.configure(len(f.created), ch)
	}
	f.created = append(f.created, ch)
	return ch, nil
}

func (f *channelFactory) channel(i int) *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

func (f *channelFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
