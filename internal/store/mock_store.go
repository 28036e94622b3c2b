// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-peer/internal/peerid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	sessions []NodeSession                  // in insertion order
	addrs    map[string]map[string]NodeAddr // keyed by peer ID, then multiaddr string
	now      func() time.Time
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		addrs: make(map[string]map[string]NodeAddr),
		now:   time.Now,
	}
}

// RecordSession stores a node start.
func (m *MockStore) RecordSession(ctx context.Context, peerID, mode string, restarts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = append(m.sessions, NodeSession{
		ID:           uuid.NewString(),
		PeerID:       peerID,
		Mode:         mode,
		RestartCount: restarts,
		StartedAt:    m.now().UTC(),
	})
	return nil
}

// LatestSession returns the last recorded start of peerID.
func (m *MockStore) LatestSession(ctx context.Context, peerID string) (*NodeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.sessions) - 1; i >= 0; i-- {
		if m.sessions[i].PeerID == peerID {
			sess := m.sessions[i]
			return &sess, nil
		}
	}
	return nil, ErrNotFound
}

// SaveMultiAddrs upserts addrs for peerID.
func (m *MockStore) SaveMultiAddrs(ctx context.Context, peerID string, addrs []peerid.MultiAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byAddr, ok := m.addrs[peerID]
	if !ok {
		byAddr = make(map[string]NodeAddr)
		m.addrs[peerID] = byAddr
	}
	now := m.now().UTC()
	for _, addr := range addrs {
		byAddr[addr.String()] = NodeAddr{PeerID: peerID, MultiAddr: addr, SeenAt: now}
	}
	return nil
}

// ListMultiAddrs returns stored addresses, most recently seen first.
func (m *MockStore) ListMultiAddrs(ctx context.Context, peerID string) ([]NodeAddr, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []NodeAddr
	for id, byAddr := range m.addrs {
		if peerID != "" && id != peerID {
			continue
		}
		for _, addr := range byAddr {
			result = append(result, addr)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].SeenAt.Equal(result[j].SeenAt) {
			return result[i].SeenAt.After(result[j].SeenAt)
		}
		return result[i].MultiAddr.String() < result[j].MultiAddr.String()
	})
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
