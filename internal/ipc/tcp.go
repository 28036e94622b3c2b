// ABOUTME: TCP loopback implementation of Channel.
// ABOUTME: Listens on 127.0.0.1:0 at construction and accepts exactly one node connection.

package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

const closeWriteTimeout = time.Second

// TCPChannel is a Channel over a loopback TCP connection. The listening port is
// both the in and the out rendezvous point.
type TCPChannel struct {
	logger *slog.Logger
	ln     *net.TCPListener
	port   string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool

	writeMu sync.Mutex
}

// NewTCPChannel opens the listener immediately so the port can be handed to the
// node before it starts.
func NewTCPChannel(logger *slog.Logger) (*TCPChannel, error) {
	if logger == nil {
		logger = slog.Default().With("component", "ipc")
	}
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, fmt.Errorf("listening on loopback: %w", err)
	}
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
	logger.Debug("ipc rendezvous point ready", "transport", KindTCP, "port", port)
	return &TCPChannel{logger: logger, ln: ln, port: port}, nil
}

// InPath returns the listening port.
func (c *TCPChannel) InPath() string { return c.port }

// OutPath returns the listening port.
func (c *TCPChannel) OutPath() string { return c.port }

// Connect accepts the node's connection. The listener is closed after the first
// accept.
func (c *TCPChannel) Connect(ctx context.Context, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, net.ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	if timeout > 0 {
		_ = c.ln.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ln.SetDeadline(time.Unix(1, 0))
	})
	conn, err := c.ln.Accept()
	stop()
	_ = c.ln.SetDeadline(time.Time{})

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.logger.Debug("node did not connect in time", "port", c.port, "timeout", timeout)
			return false, nil
		}
		return false, fmt.Errorf("accepting node connection: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return false, net.ErrClosed
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	_ = c.ln.Close()
	c.logger.Debug("node connected", "port", c.port, "remote", conn.RemoteAddr().String())
	return true, nil
}

func (c *TCPChannel) current() (net.Conn, *bufio.Reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.reader, c.closed
}

// Write sends one frame. Cancelling ctx aborts a blocked write.
func (c *TCPChannel) Write(ctx context.Context, data []byte) error {
	conn, _, closed := c.current()
	if closed {
		return fmt.Errorf("%w: channel closed", ErrNotConnected)
	}
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()
	defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()

	c.logger.Debug("writing frame", "size", len(data))
	if err := WriteFrame(conn, data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Read returns the next frame. A Read cancelled through ctx may leave a
// partially consumed frame behind, after which the channel should be closed.
func (c *TCPChannel) Read(ctx context.Context) ([]byte, error) {
	conn, reader, closed := c.current()
	if closed {
		return nil, io.EOF
	}
	if conn == nil {
		return nil, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	data, err := ReadFrame(reader)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if _, _, closed := c.current(); closed || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame when connected and releases the listener and
// connection. It is safe to call more than once.
func (c *TCPChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	_ = c.ln.Close()
	if conn == nil {
		return nil
	}

	// bound any write still in flight so the close frame can go out
	_ = conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
	if err := writeCloseFrame(conn); err != nil {
		c.logger.Debug("close frame not delivered", "error", err)
	}
	c.writeMu.Unlock()

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing node connection: %w", err)
	}
	return nil
}
