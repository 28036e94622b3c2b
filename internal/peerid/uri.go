// ABOUTME: host:port URIs for the node's local, public, delegate and monitoring endpoints.
// ABOUTME: Parses host:port strings; an empty string means the URI is unset.

package peerid

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// URI is a host and port. The zero value means "not configured".
type URI struct {
	Host string
	Port uint16
}

// ParseURI parses "host:port". An empty string yields the zero URI.
func ParseURI(s string) (URI, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return URI{}, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return URI{}, fmt.Errorf("%w: uri %q: %v", ErrMalformedAddress, s, err)
	}
	if host == "" {
		return URI{}, fmt.Errorf("%w: uri %q has no host", ErrMalformedAddress, s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return URI{}, fmt.Errorf("%w: uri %q has invalid port", ErrMalformedAddress, s)
	}
	return URI{Host: host, Port: uint16(port)}, nil
}

// IsZero reports whether u is unset.
func (u URI) IsZero() bool { return u.Host == "" && u.Port == 0 }

// String returns "host:port", or "" for the zero URI.
func (u URI) String() string {
	if u.IsZero() {
		return ""
	}
	return net.JoinHostPort(u.Host, strconv.FormatUint(uint64(u.Port), 10))
}
