// ABOUTME: Unbounded FIFO of frames read from the node, closed with an end-of-stream marker.
// ABOUTME: Waiters block on a broadcast channel that is replaced on every change.

package acn

import (
	"context"
	"io"
	"sync"
)

// inbox never blocks the producer. Once closed, consumers drain the frames
// already queued and then receive io.EOF.
type inbox struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	// changed is closed and replaced whenever frames or closed change.
	changed chan struct{}
}

func newInbox() *inbox {
	return &inbox{changed: make(chan struct{})}
}

func (q *inbox) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// push appends a frame. Frames pushed after close are dropped.
func (q *inbox) push(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.frames = append(q.frames, frame)
	q.notifyLocked()
}

// close marks the end of the stream. It is safe to call more than once.
func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notifyLocked()
}

// pop blocks for the next frame, io.EOF at end of stream, or ctx's error.
func (q *inbox) pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames[0] = nil
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, io.EOF
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
