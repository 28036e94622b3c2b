// ABOUTME: Extracts self-announced multiaddresses and failure diagnostics from the node's log.
// ABOUTME: The Scraper interface lets the supervisor swap log parsing for a structured side channel.

// Package nodelog reads the machine-parsed conventions of the peer node's log
// output.
package nodelog

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/2389/coven-peer/internal/peerid"
)

// Log markers emitted by the node process.
const (
	AddrListStart = "MULTIADDRS_LIST_START"
	AddrListEnd   = "MULTIADDRS_LIST_END"
	CriticalError = "LIBP2P_NODE_PANIC_ERROR"
	PanicError    = "panic:"
)

const maxLineSize = 1 << 20

// Scraper extracts facts from the node's log.
type Scraper interface {
	// DiscoverAddresses returns the node's own multiaddresses from the last
	// address list in the log.
	DiscoverAddresses(r io.Reader) ([]peerid.MultiAddr, error)
	// ScrapeError returns the most relevant failure message in the log, or ""
	// when there is none.
	ScrapeError(r io.Reader) string
}

// LogScraper is the marker-based Scraper.
type LogScraper struct{}

var _ Scraper = LogScraper{}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return sc
}

// DiscoverAddresses collects the lines between AddrListStart and AddrListEnd.
// Each start marker discards what was collected before it. A blank line also
// ends the list.
func (LogScraper) DiscoverAddresses(r io.Reader) ([]peerid.MultiAddr, error) {
	var addrs []peerid.MultiAddr
	found := false

	sc := newScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, AddrListStart) {
			found = true
			addrs = nil
			continue
		}
		if !found {
			continue
		}
		elem := strings.TrimSpace(line)
		if elem == AddrListEnd || elem == "" {
			found = false
			continue
		}
		addr, err := peerid.ParseMultiAddr(elem)
		if err != nil {
			return nil, fmt.Errorf("node announced %q: %w", elem, err)
		}
		addrs = append(addrs, addr)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading node log: %w", err)
	}
	return addrs, nil
}

// ScrapeError returns the text after the last critical-error marker, falling
// back to the text after the last panic marker.
func (LogScraper) ScrapeError(r io.Reader) string {
	var critical, panicMsg string

	sc := newScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, CriticalError) {
			critical = afterFirstColon(line)
		}
		if strings.Contains(line, PanicError) {
			panicMsg = afterFirstColon(line)
		}
	}
	// a read error just truncates what we can report
	if critical != "" {
		return critical
	}
	return panicMsg
}

func afterFirstColon(line string) string {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}
