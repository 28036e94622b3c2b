// Package acn connects an agent to the peer network through an external node.
//
// A Connection validates its configuration up front, then drives a
// node.Supervisor through a small state machine:
//
//	disconnected -> connecting -> connected -> disconnecting -> disconnected
//
// with a direct return from connecting to disconnected when the node fails to
// start. While connected a single background loop reads frames from the node
// into an unbounded inbound queue; Receive pops from it and returns io.EOF
// once the node closes the channel or Disconnect runs. Frames are opaque.
//
// # Topology
//
// Without a public URI the node runs in relayed mode and needs at least one
// entry peer. With a public URI it runs as a full DHT node, needs a local URI,
// and its public host must share an address space (private or public) with
// every entry peer.
package acn
