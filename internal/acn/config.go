// ABOUTME: Construction-time validation of a peer connection: ledger, node key, URIs, entry peers and topology.
// ABOUTME: Produces the node handoff configuration or fails fast with ErrInvalidConfiguration.

package acn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/peerid"
	"github.com/2389/coven-peer/internal/record"
)

var (
	// ErrInvalidConfiguration indicates a deployment that must not reach the network.
	ErrInvalidConfiguration = errors.New("invalid peer configuration")
	// ErrUnsupportedLedger indicates a ledger outside record.SupportedLedgers.
	ErrUnsupportedLedger = fmt.Errorf("%w: unsupported ledger", ErrInvalidConfiguration)
	// ErrNotConnected is returned by Send and Receive before Connect.
	ErrNotConnected = errors.New("peer connection not connected")
)

// resolveTimeout bounds the host lookups made by the address space check.
const resolveTimeout = 10 * time.Second

// Mode is how the node takes part in the network.
type Mode string

const (
	// ModeFull runs a full DHT node reachable at its public URI.
	ModeFull Mode = "full"
	// ModeRelayed runs a DHT client reachable only through its entry peers.
	ModeRelayed Mode = "relayed"
)

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Config is everything needed to build a Connection.
type Config struct {
	LedgerID     string
	AgentAddress string
	// NodePrivateKey is the hex secp256k1 key the node identifies itself with.
	NodePrivateKey string
	// CertRequests must hold exactly one request vouching for the node key.
	CertRequests []record.CertRequest
	// DataDir anchors relative signature paths and the node's files.
	DataDir string

	LocalURI      string
	PublicURI     string
	DelegateURI   string
	MonitoringURI string
	MailboxURI    string
	EntryPeers    []string

	RegistrationDelay time.Duration
	StoragePath       string

	// Node configures the supervisor. DataDir and Logger are filled in from
	// this Config when unset.
	Node node.Options
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
	// AddressBook, when set, records every node start.
	AddressBook AddressBook
}

// validated is the outcome of validate.
type validated struct {
	mode   Mode
	peerID string
	env    node.EnvConfig
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// validate checks cfg in a fixed order so the first problem reported is the
// most fundamental one.
func validate(cfg Config, warn func(msg string, args ...any)) (validated, error) {
	var v validated

	if !record.IsSupportedLedger(cfg.LedgerID) {
		return v, fmt.Errorf("%w %q, expected one of %s", ErrUnsupportedLedger, cfg.LedgerID, strings.Join(record.SupportedLedgers, ", "))
	}
	if cfg.AgentAddress == "" {
		return v, invalid("agent address is required")
	}

	keyHex, publicKey, err := nodeKey(cfg.NodePrivateKey)
	if err != nil {
		return v, err
	}
	if v.peerID, err = peerid.DerivePeerID(publicKey, peerid.KeyTypeSecp256k1); err != nil {
		return v, err
	}

	uris := make([]peerid.URI, 4)
	for i, raw := range []string{cfg.LocalURI, cfg.PublicURI, cfg.DelegateURI, cfg.MonitoringURI} {
		if uris[i], err = peerid.ParseURI(raw); err != nil {
			return v, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}
	local, public, delegate, monitoring := uris[0], uris[1], uris[2], uris[3]

	entryPeers := make([]peerid.MultiAddr, 0, len(cfg.EntryPeers))
	for _, raw := range cfg.EntryPeers {
		addr, err := peerid.ParseMultiAddr(strings.TrimSpace(raw))
		if err != nil {
			return v, fmt.Errorf("%w: entry peer: %w", ErrInvalidConfiguration, err)
		}
		if err := peerid.ValidatePeerID(addr.PeerID); err != nil {
			return v, fmt.Errorf("%w: entry peer %s: %w", ErrInvalidConfiguration, raw, err)
		}
		if _, err := addr.Multiaddr(); err != nil {
			return v, fmt.Errorf("%w: entry peer %s: %w", ErrInvalidConfiguration, raw, err)
		}
		entryPeers = append(entryPeers, addr)
	}

	if cfg.RegistrationDelay < 0 {
		return v, invalid("peer registration delay %s must not be negative", cfg.RegistrationDelay)
	}

	if public.IsZero() {
		v.mode = ModeRelayed
		if len(entryPeers) == 0 {
			return v, invalid("at least one entry peer is required when the node runs in relayed mode: cannot join without a relay")
		}
		if !delegate.IsZero() {
			warn("ignoring delegate uri as node runs in relayed mode", "delegate_uri", delegate.String())
			delegate = peerid.URI{}
		}
	} else {
		v.mode = ModeFull
		if local.IsZero() {
			return v, invalid("local uri must be set when public uri is provided (they are the same for a local deployment)")
		}
		hosts := []string{public.Host}
		for _, p := range entryPeers {
			hosts = append(hosts, p.Host)
		}
		resolver := cfg.Resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		if err := sameAddressSpace(resolver, hosts); err != nil {
			return v, err
		}
	}

	if len(cfg.CertRequests) != 1 {
		return v, invalid("exactly one certificate request is required, got %d", len(cfg.CertRequests))
	}
	rec, err := record.FromCertRequest(cfg.CertRequests[0], cfg.AgentAddress, publicKey, cfg.DataDir)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := rec.Verify(); err != nil {
		return v, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	v.env = node.EnvConfig{
		AgentAddress:      cfg.AgentAddress,
		NodePrivateKey:    keyHex,
		PeerID:            v.peerID,
		LocalURI:          local,
		PublicURI:         public,
		DelegateURI:       delegate,
		MonitoringURI:     monitoring,
		MailboxURI:        cfg.MailboxURI,
		EntryPeers:        entryPeers,
		Record:            rec,
		RegistrationDelay: cfg.RegistrationDelay,
		StoragePath:       cfg.StoragePath,
	}
	return v, nil
}

// nodeKey normalizes the node's private key and returns it with its
// compressed public key, both hex encoded.
func nodeKey(raw string) (keyHex, publicKey string, err error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if keyHex == "" {
		return "", "", fmt.Errorf("%w: node private key is required", peerid.ErrInvalidKey)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return "", "", fmt.Errorf("%w: node private key: %v", peerid.ErrInvalidKey, err)
	}
	return keyHex, fmt.Sprintf("%x", crypto.CompressPubkey(&key.PublicKey)), nil
}

// addrSpace is the part of an address that must agree between a node and its
// entry peers.
type addrSpace struct {
	private  bool
	loopback bool
}

func spaceOf(a netip.Addr) addrSpace {
	a = a.Unmap()
	return addrSpace{
		private:  a.IsPrivate() || a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsUnspecified(),
		loopback: a.IsLoopback(),
	}
}

// sameAddressSpace fails unless every host resolves into the same address
// space as the first one.
func sameAddressSpace(r Resolver, hosts []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	var first addrSpace
	for i, host := range hosts {
		addr, err := resolveHost(ctx, r, host)
		if err != nil {
			return invalid("resolving %q: %v", host, err)
		}
		space := spaceOf(addr)
		if i == 0 {
			first = space
			continue
		}
		if space != first {
			return invalid("node's public host %s and entry peer host %s are not in the same address space (private/public)", hosts[0], host)
		}
	}
	return nil
}

func resolveHost(ctx context.Context, r Resolver, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}
	addrs, err := r.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, err
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}
