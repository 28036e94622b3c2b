// Package node supervises the external peer node process.
//
// # Overview
//
// A Supervisor owns exactly one node process and everything attached to it:
// the IPC channel, the append-only log file and the environment handoff file
// the node reads at startup.
//
//	sup, err := node.New(env, opts)
//	err = sup.Start(ctx)
//	frame, err := sup.Read(ctx)
//	err = sup.Write(ctx, frame)
//	err = sup.Stop(ctx)
//
// # Lifecycle
//
//	stopped -> starting -> running -> stopping -> stopped
//
// StateFailed is entered when Restart is called with no restarts left.
//
// Start opens the log and the channel endpoints before the process exists,
// writes the handoff file, launches the process and waits for the channel
// handshake. If the handshake times out or the process exits first, the log is
// scraped for a diagnostic, the rendered configuration is logged, the node is
// stopped and the error is returned. On success the node's own multiaddresses
// are read back from the log.
//
// # Recovery
//
// Read and Write consult a RetryPolicy when the channel fails. The default,
// OnceRetry, restarts the node once and retries the operation once. A read
// that still fails reports io.EOF; a write that still fails returns the error.
// Restarts are bounded by Options.MaxRestarts over the supervisor's lifetime.
//
// # Thread Safety
//
// Lifecycle transitions (Start, Stop, Restart) hold the supervisor lock for
// their whole duration. Read and Write take a snapshot of the current channel
// and do their I/O without the lock; a failed operation only triggers a
// restart when no other restart has replaced the channel since its snapshot.
package node
