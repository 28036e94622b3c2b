//go:build !unix

// ABOUTME: Named pipes are unavailable off unix; only the TCP channel works here.
// ABOUTME: NewFIFOChannel always fails on these platforms.

package ipc

import (
	"errors"
	"log/slog"
)

// FIFOChannel is not supported on this platform.
type FIFOChannel struct {
	Channel
}

// NewFIFOChannel always fails on this platform.
func NewFIFOChannel(*slog.Logger) (*FIFOChannel, error) {
	return nil, errors.ErrUnsupported
}
