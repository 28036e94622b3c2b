//go:build unix

// ABOUTME: POSIX named-pipe implementation of Channel.
// ABOUTME: Creates two FIFOs in a private temp dir and polls until the node opens its ends.

package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const fifoConnectAttempts = 10

// FIFOChannel is a Channel over a pair of named pipes.
type FIFOChannel struct {
	logger  *slog.Logger
	dir     string
	inPath  string
	outPath string

	mu     sync.Mutex
	in     *os.File
	out    *os.File
	reader *bufio.Reader
	closed bool

	writeMu sync.Mutex
}

// NewFIFOChannel creates both pipes. They are removed by Close.
func NewFIFOChannel(logger *slog.Logger) (*FIFOChannel, error) {
	if logger == nil {
		logger = slog.Default().With("component", "ipc")
	}
	dir, err := os.MkdirTemp("", "coven-peer-ipc-")
	if err != nil {
		return nil, fmt.Errorf("creating pipe dir: %w", err)
	}
	c := &FIFOChannel{
		logger:  logger,
		dir:     dir,
		inPath:  filepath.Join(dir, "node_to_agent"),
		outPath: filepath.Join(dir, "agent_to_node"),
	}
	for _, p := range []string{c.inPath, c.outPath} {
		if err := unix.Mkfifo(p, 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("creating fifo %s: %w", p, err)
		}
	}
	logger.Debug("ipc rendezvous point ready", "transport", KindFIFO, "in", c.inPath, "out", c.outPath)
	return c, nil
}

// InPath is the pipe the node writes to.
func (c *FIFOChannel) InPath() string { return c.inPath }

// OutPath is the pipe the node reads from.
func (c *FIFOChannel) OutPath() string { return c.outPath }

// Connect opens the read end of InPath, then retries opening the write end of
// OutPath until the node has opened it for reading or the timeout elapses.
func (c *FIFOChannel) Connect(ctx context.Context, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, os.ErrClosed
	}
	if c.out != nil {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	in, err := openFIFO(c.inPath, unix.O_RDONLY)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", c.inPath, err)
	}

	interval := timeout / fifoConnectAttempts
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	var out *os.File
	for {
		out, err = openFIFO(c.outPath, unix.O_WRONLY)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.ENXIO) {
			_ = in.Close()
			return false, fmt.Errorf("opening %s: %w", c.outPath, err)
		}
		if !time.Now().Before(deadline) {
			_ = in.Close()
			c.logger.Debug("node did not open its pipe in time", "out", c.outPath, "timeout", timeout)
			return false, nil
		}
		select {
		case <-ctx.Done():
			_ = in.Close()
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = in.Close()
		_ = out.Close()
		return false, os.ErrClosed
	}
	c.in, c.out = in, out
	c.reader = bufio.NewReader(in)
	c.logger.Debug("node attached to pipes", "in", c.inPath, "out", c.outPath)
	return true, nil
}

// openFIFO opens path non-blocking; os.NewFile then registers the descriptor
// with the runtime poller so reads and writes park the goroutine.
func openFIFO(path string, mode int) (*os.File, error) {
	fd, err := unix.Open(path, mode|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

func (c *FIFOChannel) current() (*os.File, *os.File, *bufio.Reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in, c.out, c.reader, c.closed
}

// Write sends one frame.
func (c *FIFOChannel) Write(ctx context.Context, data []byte) error {
	_, out, _, closed := c.current()
	if closed {
		return fmt.Errorf("%w: channel closed", ErrNotConnected)
	}
	if out == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = out.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	defer func() { _ = out.SetWriteDeadline(time.Time{}) }()

	c.logger.Debug("writing frame", "size", len(data))
	if err := WriteFrame(out, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Read returns the next frame.
func (c *FIFOChannel) Read(ctx context.Context) ([]byte, error) {
	in, _, reader, closed := c.current()
	if closed {
		return nil, io.EOF
	}
	if in == nil {
		return nil, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = in.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	data, err := ReadFrame(reader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if _, _, _, closed := c.current(); closed || errors.Is(err, os.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame when connected, closes both ends and removes the
// pipe directory.
func (c *FIFOChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	in, out := c.in, c.out
	c.mu.Unlock()

	if out != nil {
		_ = out.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		c.writeMu.Lock()
		_ = out.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		if err := writeCloseFrame(out); err != nil {
			c.logger.Debug("close frame not delivered", "error", err)
		}
		c.writeMu.Unlock()
		_ = out.Close()
	}
	if in != nil {
		_ = in.Close()
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("removing pipe dir: %w", err)
	}
	return nil
}
