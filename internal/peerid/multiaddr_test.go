// ABOUTME: Tests for multiaddress formatting, parsing and construction.
// ABOUTME: Covers the round-trip law and the malformed-address failures.

package peerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiAddrRoundTrip(t *testing.T) {
	id := knownPeerID
	cases := []struct {
		host string
		port uint16
	}{
		{"127.0.0.1", 13000},
		{"acn.example.org", 9000},
		{"localhost", 0},
		{"10.0.0.7", 65535},
	}
	for _, c := range cases {
		s := FormatMultiAddr(c.host, c.port, id)
		got, err := ParseMultiAddr(s)
		require.NoError(t, err, s)
		assert.Equal(t, MultiAddr{Host: c.host, Port: c.port, PeerID: id}, got)
		assert.Equal(t, s, got.String())

		again, err := ParseMultiAddr(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestParseMultiAddr_Malformed(t *testing.T) {
	bad := []string{
		"",
		"/dns4/127.0.0.1/tcp/9000",
		"/dns4/127.0.0.1/tcp/9000/p2p/" + knownPeerID + "/extra",
		"/dns4/127.0.0.1/tcp/90a0/p2p/" + knownPeerID,
		"/dns4/127.0.0.1/tcp//p2p/" + knownPeerID,
		"/dns4/127.0.0.1/tcp/-1/p2p/" + knownPeerID,
		"/dns4/127.0.0.1/tcp/70000/p2p/" + knownPeerID,
	}
	for _, s := range bad {
		_, err := ParseMultiAddr(s)
		assert.ErrorIs(t, err, ErrMalformedAddress, "input %q", s)
	}
}

func TestParseMultiAddr_DoesNotValidatePeerID(t *testing.T) {
	got, err := ParseMultiAddr("/dns4/host/tcp/1/p2p/not-a-multihash")
	require.NoError(t, err)
	assert.Equal(t, "not-a-multihash", got.PeerID)

	assert.ErrorIs(t, ValidatePeerID(got.PeerID), ErrMalformedAddress)
	assert.ErrorIs(t, ValidatePeerID("0OIl"), ErrMalformedAddress)
	assert.NoError(t, ValidatePeerID(knownPeerID))
}

func TestNewMultiAddr(t *testing.T) {
	pub := newSecp256k1Hex(t)

	fromKey, err := NewMultiAddr("127.0.0.1", 9000, pub, "")
	require.NoError(t, err)
	want, err := DerivePeerID(pub, KeyTypeSecp256k1)
	require.NoError(t, err)
	assert.Equal(t, want, fromKey.PeerID)
	assert.Equal(t, pub, fromKey.PublicKey)

	fromID, err := NewMultiAddr("127.0.0.1", 9000, "", want)
	require.NoError(t, err)
	assert.Equal(t, fromKey.String(), fromID.String())

	_, err = NewMultiAddr("127.0.0.1", 9000, pub, want)
	assert.ErrorIs(t, err, ErrMalformedAddress)
	_, err = NewMultiAddr("127.0.0.1", 9000, "", "")
	assert.ErrorIs(t, err, ErrMalformedAddress)
	_, err = NewMultiAddr("127.0.0.1", 9000, "", "0OIl")
	assert.ErrorIs(t, err, ErrMalformedAddress)
	_, err = NewMultiAddr("127.0.0.1", 9000, "abcd", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMultiAddr_Multiaddr(t *testing.T) {
	m := MultiAddr{Host: "127.0.0.1", Port: 13000, PeerID: knownPeerID}
	addr, err := m.Multiaddr()
	require.NoError(t, err)
	assert.Equal(t, m.String(), addr.String())

	_, err = MultiAddr{Host: "h", Port: 1, PeerID: "1OOO"}.Multiaddr()
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestParseURI(t *testing.T) {
	u, err := ParseURI("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, URI{Host: "127.0.0.1", Port: 9000}, u)
	assert.Equal(t, "127.0.0.1:9000", u.String())

	u, err = ParseURI("")
	require.NoError(t, err)
	assert.True(t, u.IsZero())
	assert.Equal(t, "", u.String())

	for _, bad := range []string{"localhost", ":9000", "host:port", "host:70000"} {
		_, err := ParseURI(bad)
		assert.ErrorIs(t, err, ErrMalformedAddress, bad)
	}
}
