// ABOUTME: The fixed /dns4/{host}/tcp/{port}/p2p/{peerID} multiaddress used by the network.
// ABOUTME: Formats, parses and constructs MultiAddr values from a public key or a peer ID.

package peerid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// ErrMalformedAddress indicates a multiaddress or peer ID that cannot be decoded.
var ErrMalformedAddress = errors.New("malformed address")

// MultiAddr is a peer's dialable address. PeerID is always set; PublicKey is set
// only when the address was built from a key.
type MultiAddr struct {
	Host      string
	Port      uint16
	PeerID    string
	PublicKey string
}

// NewMultiAddr builds a MultiAddr from exactly one of publicKeyHex (a secp256k1
// key) or peerID (a base58 multihash, validated here).
func NewMultiAddr(host string, port uint16, publicKeyHex, peerID string) (MultiAddr, error) {
	switch {
	case publicKeyHex != "" && peerID != "":
		return MultiAddr{}, fmt.Errorf("%w: set either a public key or a peer id, not both", ErrMalformedAddress)
	case publicKeyHex != "":
		id, err := DerivePeerID(publicKeyHex, KeyTypeSecp256k1)
		if err != nil {
			return MultiAddr{}, err
		}
		return MultiAddr{Host: host, Port: port, PeerID: id, PublicKey: publicKeyHex}, nil
	case peerID != "":
		if err := ValidatePeerID(peerID); err != nil {
			return MultiAddr{}, err
		}
		return MultiAddr{Host: host, Port: port, PeerID: peerID}, nil
	default:
		return MultiAddr{}, fmt.Errorf("%w: a public key or a peer id is required", ErrMalformedAddress)
	}
}

// FormatMultiAddr renders the canonical address string.
func FormatMultiAddr(host string, port uint16, peerID string) string {
	return "/dns4/" + host + "/tcp/" + strconv.FormatUint(uint64(port), 10) + "/p2p/" + peerID
}

// ParseMultiAddr splits s into host, port and peer ID. It checks the shape and
// the port only; use ValidatePeerID to check the peer ID segment.
func ParseMultiAddr(s string) (MultiAddr, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 7 {
		return MultiAddr{}, fmt.Errorf("%w: expected 7 segments in %q, got %d", ErrMalformedAddress, s, len(parts))
	}
	portStr := parts[4]
	if portStr == "" || strings.IndexFunc(portStr, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return MultiAddr{}, fmt.Errorf("%w: port %q is not numeric", ErrMalformedAddress, portStr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return MultiAddr{}, fmt.Errorf("%w: port %q out of range", ErrMalformedAddress, portStr)
	}
	return MultiAddr{
		Host:   parts[2],
		Port:   uint16(port),
		PeerID: parts[6],
	}, nil
}

// String returns the canonical address string.
func (m MultiAddr) String() string {
	return FormatMultiAddr(m.Host, m.Port, m.PeerID)
}

// Multiaddr converts m into a go-multiaddr value, which also checks that the
// host is a valid DNS name and that the peer ID is a valid multihash.
func (m MultiAddr) Multiaddr() (ma.Multiaddr, error) {
	addr, err := ma.NewMultiaddr(m.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	return addr, nil
}
