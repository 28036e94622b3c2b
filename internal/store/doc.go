// Package store provides the peer address book using SQLite.
//
// # Architecture
//
// The Store interface records what local peer nodes announced:
//
//   - NodeSession: one successful start of a node, with its mode and how
//     many restarts preceded it
//   - NodeAddr: a multiaddress the node announced, with the last time it
//     was seen
//
// SQLiteStore is the production implementation (modernc.org/sqlite, no cgo).
// MockStore keeps the same data in memory for tests.
//
// # Schema
//
//	node_sessions(id, peer_id, mode, restart_count, started_at)
//	node_addrs(peer_id, multiaddr, seen_at)  -- primary key (peer_id, multiaddr)
//
// Timestamps are stored as RFC 3339 text in UTC.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/coven-peer/peer.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	err = s.SaveMultiAddrs(ctx, peerID, addrs)
//	known, err := s.ListMultiAddrs(ctx, peerID)
package store
