// ABOUTME: Store interface and data types for coven-peer persistence
// ABOUTME: Defines NodeSession and NodeAddr and the Store interface for the address book

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-peer/internal/peerid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// NodeSession records one successful start of a peer node
type NodeSession struct {
	ID           string
	PeerID       string
	Mode         string // "full" or "relayed"
	RestartCount int    // restarts completed before this start
	StartedAt    time.Time
}

// NodeAddr is a multiaddress a node announced for itself
type NodeAddr struct {
	PeerID    string
	MultiAddr peerid.MultiAddr
	SeenAt    time.Time
}

// Store is the address book: what each local node announced and when it ran.
type Store interface {
	// RecordSession stores a node start.
	RecordSession(ctx context.Context, peerID, mode string, restarts int) error

	// LatestSession returns the most recent start of peerID, or ErrNotFound.
	LatestSession(ctx context.Context, peerID string) (*NodeSession, error)

	// SaveMultiAddrs upserts the addresses a node announced, refreshing their
	// seen time.
	SaveMultiAddrs(ctx context.Context, peerID string, addrs []peerid.MultiAddr) error

	// ListMultiAddrs returns stored addresses, most recently seen first. An
	// empty peerID lists every node's addresses.
	ListMultiAddrs(ctx context.Context, peerID string) ([]NodeAddr, error)

	// Close releases any resources held by the store.
	Close() error
}
