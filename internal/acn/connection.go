// ABOUTME: Connection, the agent-facing facade over one supervised peer node.
// ABOUTME: Owns the connect/disconnect state machine, the background receive loop and the inbound queue.

package acn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/peerid"
	"github.com/2389/coven-peer/internal/record"
)

// State is the connection's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AddressBook persists what the connection learns about its node.
type AddressBook interface {
	RecordSession(ctx context.Context, peerID string, mode string, restarts int) error
	SaveMultiAddrs(ctx context.Context, peerID string, addrs []peerid.MultiAddr) error
}

// addressBookTimeout bounds each address book write.
const addressBookTimeout = 5 * time.Second

// Connection exchanges opaque frames with the network through a peer node.
type Connection struct {
	logger *slog.Logger
	mode   Mode
	peerID string
	record record.AgentRecord
	sup    *node.Supervisor
	book   AddressBook

	// lifecycle serializes Connect and Disconnect.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	inbox    *inbox
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New validates cfg and builds a disconnected Connection. Validation failures
// wrap ErrInvalidConfiguration, or peerid.ErrInvalidKey for a bad node key.
func New(cfg Config, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "acn")

	v, err := validate(cfg, logger.Warn)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		logger: logger,
		mode:   v.mode,
		peerID: v.peerID,
		record: v.env.Record,
		book:   cfg.AddressBook,
	}

	opts := cfg.Node
	if opts.DataDir == "" {
		opts.DataDir = cfg.DataDir
	}
	if opts.Logger == nil {
		opts.Logger = logger.With("component", "node")
	}
	hook := opts.OnStart
	opts.OnStart = func(addrs []peerid.MultiAddr, restarts int) {
		c.recordStart(addrs, restarts)
		if hook != nil {
			hook(addrs, restarts)
		}
	}

	sup, err := node.New(v.env, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	c.sup = sup

	logger.Debug("peer connection configured", "peer_id", c.peerID, "mode", c.mode, "ledger", cfg.LedgerID)
	return c, nil
}

// recordStart writes a node start to the address book.
func (c *Connection) recordStart(addrs []peerid.MultiAddr, restarts int) {
	if c.book == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), addressBookTimeout)
	defer cancel()
	if err := c.book.RecordSession(ctx, c.peerID, string(c.mode), restarts); err != nil {
		c.logger.Warn("failed to record node session", "error", err)
	}
	if len(addrs) == 0 {
		return
	}
	if err := c.book.SaveMultiAddrs(ctx, c.peerID, addrs); err != nil {
		c.logger.Warn("failed to save node addresses", "error", err)
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug("connection state changed", "from", c.state, "to", s)
	c.state = s
}

// PeerID returns the node's peer ID.
func (c *Connection) PeerID() string { return c.peerID }

// Mode returns whether the node runs as a full or relayed peer.
func (c *Connection) Mode() Mode { return c.mode }

// AgentRecord returns the proof of representation handed to the node.
func (c *Connection) AgentRecord() record.AgentRecord { return c.record }

// MultiAddrs returns the addresses the node announced on its last start.
func (c *Connection) MultiAddrs() []peerid.MultiAddr { return c.sup.MultiAddrs() }

// Describe summarizes how the node runs.
func (c *Connection) Describe() string { return c.sup.Describe() }

// Supervisor exposes the node supervisor, for restart counts and file paths.
func (c *Connection) Supervisor() *node.Supervisor { return c.sup }

// Connect starts the node and the receive loop. It is a no-op when already
// connected. On failure the connection is back to disconnected and nothing is
// left running.
func (c *Connection) Connect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateConnected {
		return nil
	}
	c.setState(StateConnecting)

	if err := c.sup.Start(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	q := newInbox()
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go c.receiveLoop(loopCtx, q, done)

	c.mu.Lock()
	c.inbox = q
	c.cancel = cancel
	c.loopDone = done
	c.mu.Unlock()

	c.setState(StateConnected)
	c.logger.Info("peer connection established", "peer_id", c.peerID, "mode", c.mode)
	return nil
}

// receiveLoop moves frames from the node into q until the node closes the
// channel or ctx is cancelled.
func (c *Connection) receiveLoop(ctx context.Context, q *inbox, done chan<- struct{}) {
	defer close(done)
	for {
		frame, err := c.sup.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				c.logger.Error("receive loop stopped", "error", err)
			} else {
				c.logger.Debug("node closed the channel")
			}
			q.close()
			return
		}
		q.push(frame)
	}
}

// Disconnect stops the receive loop and the node, then ends the inbound
// stream so pending Receive calls return io.EOF. It is a no-op when already
// disconnected.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == StateDisconnected {
		return nil
	}
	c.setState(StateDisconnecting)

	c.mu.Lock()
	cancel, done, q := c.cancel, c.loopDone, c.inbox
	c.cancel, c.loopDone = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	err := c.sup.Stop(ctx)
	if q != nil {
		q.close()
	}

	c.setState(StateDisconnected)
	c.logger.Info("peer connection closed", "peer_id", c.peerID)
	return err
}

// Send writes one frame to the node. The node may be restarted transparently;
// the caller sees either success or the write error.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	if s := c.State(); s != StateConnected {
		return fmt.Errorf("%w (%s)", ErrNotConnected, s)
	}
	return c.sup.Write(ctx, frame)
}

// Receive returns the next inbound frame. It returns io.EOF once the node has
// closed the channel or the connection was disconnected, and ErrNotConnected
// if Connect was never called.
func (c *Connection) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	q := c.inbox
	c.mu.Unlock()
	if q == nil {
		return nil, ErrNotConnected
	}
	return q.pop(ctx)
}
