// ABOUTME: Tests for the Connection state machine, frame delivery and shutdown ordering.
// ABOUTME: Uses a stub node process and an in-memory channel.

package acn

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/peerid"
)

type connHarness struct {
	conn     *Connection
	launcher *stubLauncher
	channels *pipeFactory
	book     *memoryBook
}

func newConnHarness(t *testing.T, connected bool) *connHarness {
	t.Helper()
	h := &connHarness{
		launcher: &stubLauncher{},
		channels: &pipeFactory{connected: connected},
		book:     &memoryBook{},
	}
	cfg := testConfig(t)
	cfg.Node.ConnectionTimeout = 50 * time.Millisecond
	cfg.Node.KillTimeout = 50 * time.Millisecond
	cfg.Node.Launcher = h.launcher
	cfg.Node.NewChannel = h.channels.New
	cfg.AddressBook = h.book

	conn, err := New(cfg, nil)
	require.NoError(t, err)
	h.conn = conn
	h.launcher.output = "MULTIADDRS_LIST_START\n" +
		peerid.FormatMultiAddr("127.0.0.1", 9000, conn.PeerID()) + "\n" +
		"MULTIADDRS_LIST_END\n"
	t.Cleanup(func() { _ = conn.Disconnect(context.Background()) })
	return h
}

func TestConnection_SendReceive(t *testing.T) {
	h := newConnHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.conn.Connect(ctx))
	assert.Equal(t, StateConnected, h.conn.State())
	require.NoError(t, h.conn.Connect(ctx), "connect is idempotent")

	ch := h.channels.last()
	ch.inbound <- []byte("one")
	ch.inbound <- []byte("two")

	for _, want := range []string{"one", "two"} {
		got, err := h.conn.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	require.NoError(t, h.conn.Send(ctx, []byte("out-1")))
	require.NoError(t, h.conn.Send(ctx, []byte("out-2")))
	assert.Equal(t, [][]byte{[]byte("out-1"), []byte("out-2")}, ch.written())
}

func TestConnection_RecordsAddresses(t *testing.T) {
	h := newConnHarness(t, true)
	require.NoError(t, h.conn.Connect(context.Background()))

	want := []peerid.MultiAddr{{Host: "127.0.0.1", Port: 9000, PeerID: h.conn.PeerID()}}
	assert.Equal(t, want, h.conn.MultiAddrs())

	h.book.mu.Lock()
	defer h.book.mu.Unlock()
	require.Len(t, h.book.sessions, 1)
	assert.Equal(t, session{h.conn.PeerID(), string(ModeRelayed), 0}, h.book.sessions[0])
	assert.Equal(t, want, h.book.addrs[h.conn.PeerID()])
}

func TestConnection_NotConnected(t *testing.T) {
	h := newConnHarness(t, true)
	ctx := context.Background()

	require.ErrorIs(t, h.conn.Send(ctx, []byte("x")), ErrNotConnected)
	_, err := h.conn.Receive(ctx)
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, h.conn.Disconnect(ctx), "disconnect is a no-op when disconnected")
	assert.Equal(t, StateDisconnected, h.conn.State())
}

func TestConnection_HandshakeTimeout(t *testing.T) {
	h := newConnHarness(t, false)

	err := h.conn.Connect(context.Background())
	require.ErrorIs(t, err, node.ErrChannelTimeout)
	assert.Equal(t, StateDisconnected, h.conn.State())
	assert.True(t, h.channels.last().isClosed())
	assert.True(t, h.launcher.last().terminated.Load())
	assert.Equal(t, node.StateStopped, h.conn.Supervisor().State())

	_, err = h.conn.Receive(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestConnection_PendingReceiveEndsOnDisconnect(t *testing.T) {
	h := newConnHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.conn.Connect(ctx))

	type result struct {
		frame []byte
		err   error
	}
	got := make(chan result, 1)
	go func() {
		f, err := h.conn.Receive(ctx)
		got <- result{f, err}
	}()

	require.NoError(t, h.conn.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, h.conn.State())

	select {
	case r := <-got:
		assert.Nil(t, r.frame)
		assert.ErrorIs(t, r.err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("pending Receive did not return after Disconnect")
	}

	_, err := h.conn.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.ErrorIs(t, h.conn.Send(ctx, []byte("x")), ErrNotConnected)
	assert.True(t, h.channels.last().isClosed())
	assert.True(t, h.launcher.last().terminated.Load())
}

func TestConnection_NodeCloseDrainsThenEOF(t *testing.T) {
	h := newConnHarness(t, true)
	ctx := context.Background()
	require.NoError(t, h.conn.Connect(ctx))

	ch := h.channels.last()
	ch.inbound <- []byte("last words")
	f, err := h.conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last words", string(f))

	close(ch.eof)
	_, err = h.conn.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateConnected, h.conn.State(), "a closed stream does not disconnect by itself")
}

func TestConnection_ReceiveHonoursContext(t *testing.T) {
	h := newConnHarness(t, true)
	require.NoError(t, h.conn.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.conn.Receive(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestConnection_Reconnect(t *testing.T) {
	h := newConnHarness(t, true)
	ctx := context.Background()

	require.NoError(t, h.conn.Connect(ctx))
	require.NoError(t, h.conn.Disconnect(ctx))
	require.NoError(t, h.conn.Connect(ctx))

	h.channels.last().inbound <- []byte("again")
	f, err := h.conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "again", string(f))
}

func TestInbox(t *testing.T) {
	q := newInbox()
	q.push([]byte("a"))
	q.push([]byte("b"))
	assert.Equal(t, 2, q.len())

	q.close()
	q.close()
	q.push([]byte("dropped"))

	ctx := context.Background()
	for _, want := range []string{"a", "b"} {
		f, err := q.pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(f))
	}
	for i := 0; i < 2; i++ {
		_, err := q.pop(ctx)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestInbox_WakesAllWaiters(t *testing.T) {
	q := newInbox()
	const waiters = 3
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := q.pop(context.Background())
			errs <- err
		}()
	}
	q.close()
	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, io.EOF)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter not woken")
		}
	}
}
