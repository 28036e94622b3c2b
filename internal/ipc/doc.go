// Package ipc implements the framed byte channel between the agent and its
// external peer node process.
//
// # Framing
//
// Every frame is a 4-byte big-endian length followed by that many bytes. A
// zero-length frame marks an orderly close. Frames larger than MaxFrameSize are
// rejected on both ends.
//
// # Channels
//
// Two transports implement Channel:
//
//   - TCPChannel: a listener on 127.0.0.1 with an ephemeral port. The port is the
//     rendezvous point for both directions, so InPath and OutPath are equal.
//   - FIFOChannel: a pair of POSIX named pipes in a private temp directory.
//
// Endpoints exist as soon as the channel is constructed, so their paths can be
// handed to the node process before it starts. Connect then waits for the node
// to attach:
//
//	ch, err := ipc.New(ipc.KindTCP, logger)
//	// hand ch.InPath() / ch.OutPath() to the node, start it
//	ok, err := ch.Connect(ctx, 10*time.Second)
//
// Read returns io.EOF once the other end closes or Close is called.
package ipc
