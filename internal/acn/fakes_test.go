// ABOUTME: Test doubles for driving a Connection without a node binary.
// ABOUTME: A scripted launcher and process, an in-memory IPC channel, a resolver and an address book.

package acn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-peer/internal/ipc"
	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/peerid"
)

type stubProcess struct {
	done       chan struct{}
	once       sync.Once
	terminated atomic.Bool
}

func (p *stubProcess) Pid() int { return 4242 }
func (p *stubProcess) Terminate() error {
	p.terminated.Store(true)
	p.once.Do(func() { close(p.done) })
	return nil
}
func (p *stubProcess) Kill() error             { return p.Terminate() }
func (p *stubProcess) Exited() <-chan struct{} { return p.done }
func (p *stubProcess) Err() error              { return nil }

type stubLauncher struct {
	mu     sync.Mutex
	output string
	procs  []*stubProcess
}

func (l *stubLauncher) Launch(_ context.Context, spec node.LaunchSpec) (node.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output != "" {
		_, _ = io.WriteString(spec.Output, l.output)
	}
	p := &stubProcess{done: make(chan struct{})}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *stubLauncher) last() *stubProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type pipeChannel struct {
	connected bool
	inbound   chan []byte
	eof       chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	out [][]byte
}

func newPipeChannel() *pipeChannel {
	return &pipeChannel{
		connected: true,
		inbound:   make(chan []byte, 16),
		eof:       make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (c *pipeChannel) InPath() string  { return "127.0.0.1:50000" }
func (c *pipeChannel) OutPath() string { return "127.0.0.1:50000" }

func (c *pipeChannel) Connect(context.Context, time.Duration) (bool, error) {
	return c.connected, nil
}

func (c *pipeChannel) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("channel closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, append([]byte(nil), data...))
	return nil
}

// Read delivers queued inbound frames before reporting the node's close.
func (c *pipeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	default:
	}
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.eof:
		return nil, io.EOF
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *pipeChannel) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.out...)
}

type pipeFactory struct {
	mu        sync.Mutex
	channels  []*pipeChannel
	connected bool
}

func (f *pipeFactory) New(ipc.Kind, *slog.Logger) (ipc.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newPipeChannel()
	ch.connected = f.connected
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *pipeFactory) last() *pipeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[len(f.channels)-1]
}

type mapResolver map[string]string

func (r mapResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ip, ok := r[host]
	if !ok {
		return nil, fmt.Errorf("no such host %s", host)
	}
	return []netip.Addr{netip.MustParseAddr(ip)}, nil
}

type session struct {
	peerID   string
	mode     string
	restarts int
}

type memoryBook struct {
	mu       sync.Mutex
	sessions []session
	addrs    map[string][]peerid.MultiAddr
}

func (b *memoryBook) RecordSession(_ context.Context, peerID, mode string, restarts int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = append(b.sessions, session{peerID, mode, restarts})
	return nil
}

func (b *memoryBook) SaveMultiAddrs(_ context.Context, peerID string, addrs []peerid.MultiAddr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addrs == nil {
		b.addrs = make(map[string][]peerid.MultiAddr)
	}
	b.addrs[peerID] = addrs
	return nil
}
