// ABOUTME: The Channel interface implemented by every agent<->node transport.
// ABOUTME: Also provides the New factory that selects a transport by kind.

package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind names a channel transport.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindFIFO Kind = "fifo"
)

// DefaultConnectTimeout is how long Connect waits for the node by default.
const DefaultConnectTimeout = 10 * time.Second

// Channel is a bidirectional framed byte channel to the node process.
type Channel interface {
	// InPath is the rendezvous point for node -> agent traffic.
	InPath() string
	// OutPath is the rendezvous point for agent -> node traffic.
	OutPath() string
	// Connect waits up to timeout for the node to attach. It reports false
	// without an error when the timeout elapses.
	Connect(ctx context.Context, timeout time.Duration) (bool, error)
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error
	// Read blocks for the next frame. It returns io.EOF after the node closes
	// its end or after Close.
	Read(ctx context.Context) ([]byte, error)
	// Close sends a close frame if connected and releases the endpoints.
	Close() error
}

// New creates a channel of the given kind. An empty kind selects TCP.
func New(kind Kind, logger *slog.Logger) (Channel, error) {
	if logger == nil {
		logger = slog.Default().With("component", "ipc")
	}
	switch kind {
	case KindTCP, "":
		ch, err := NewTCPChannel(logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	case KindFIFO:
		ch, err := NewFIFOChannel(logger)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown ipc channel kind %q", kind)
	}
}

// ParseKind validates a channel kind name from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindTCP, nil
	case KindTCP, KindFIFO:
		return k, nil
	default:
		return "", fmt.Errorf("unknown ipc channel kind %q", s)
	}
}
