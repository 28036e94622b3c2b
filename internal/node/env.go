// ABOUTME: The key/value handoff file the node process reads at startup.
// ABOUTME: Rendered from EnvConfig plus the IPC endpoints and written with godotenv.

package node

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/2389/coven-peer/internal/peerid"
	"github.com/2389/coven-peer/internal/record"
)

// Handoff file keys understood by the node.
const (
	EnvAgentAddress      = "AEA_AGENT_ADDR"
	EnvNodeKey           = "AEA_P2P_ID"
	EnvLocalURI          = "AEA_P2P_URI"
	EnvPublicURI         = "AEA_P2P_URI_PUBLIC"
	EnvDelegateURI       = "AEA_P2P_DELEGATE_URI"
	EnvMonitoringURI     = "AEA_P2P_URI_MONITORING"
	EnvEntryURIs         = "AEA_P2P_ENTRY_URIS"
	EnvNodeToAgent       = "NODE_TO_AEA"
	EnvAgentToNode       = "AEA_TO_NODE"
	EnvRecordAddress     = "AEA_P2P_POR_ADDRESS"
	EnvRecordPublicKey   = "AEA_P2P_POR_PUBKEY"
	EnvRecordPeerKey     = "AEA_P2P_POR_PEER_PUBKEY"
	EnvRecordSignature   = "AEA_P2P_POR_SIGNATURE"
	EnvRecordServiceID   = "AEA_P2P_POR_SERVICE_ID"
	EnvRecordLedgerID    = "AEA_P2P_POR_LEDGER_ID"
	EnvRegistrationDelay = "AEA_P2P_CFG_REGISTRATION_DELAY"
	EnvStoragePath       = "AEA_P2P_CFG_STORAGE_PATH"
	EnvMailboxURI        = "AEA_P2P_MAILBOX_URI"
)

// EnvConfig is everything the node needs to know about itself.
type EnvConfig struct {
	AgentAddress string
	// NodePrivateKey is the hex secp256k1 session key of the node.
	NodePrivateKey string
	// PeerID is the node's own peer ID, used to keep it out of its entry peers.
	PeerID string

	LocalURI      peerid.URI
	PublicURI     peerid.URI
	DelegateURI   peerid.URI
	MonitoringURI peerid.URI
	MailboxURI    string

	EntryPeers        []peerid.MultiAddr
	Record            record.AgentRecord
	RegistrationDelay time.Duration
	StoragePath       string
}

// selfAddrs are the multiaddresses this node would announce for itself.
func (c EnvConfig) selfAddrs() map[string]bool {
	self := make(map[string]bool)
	if c.PeerID == "" {
		return self
	}
	for _, u := range []peerid.URI{c.LocalURI, c.PublicURI} {
		if !u.IsZero() {
			self[peerid.FormatMultiAddr(u.Host, u.Port, c.PeerID)] = true
		}
	}
	return self
}

// FilteredEntryPeers returns the entry peers without the node's own addresses.
func (c EnvConfig) FilteredEntryPeers() []string {
	self := c.selfAddrs()
	peers := make([]string, 0, len(c.EntryPeers))
	for _, p := range c.EntryPeers {
		s := p.String()
		if self[s] {
			continue
		}
		peers = append(peers, s)
	}
	return peers
}

// Render builds the handoff key/value set for a node reachable over the given
// IPC endpoints.
func (c EnvConfig) Render(inPath, outPath string) map[string]string {
	serviceID := c.Record.ServiceID
	if serviceID == "" {
		serviceID = record.DefaultServiceID
	}
	return map[string]string{
		EnvAgentAddress:      c.AgentAddress,
		EnvNodeKey:           c.NodePrivateKey,
		EnvLocalURI:          c.LocalURI.String(),
		EnvPublicURI:         c.PublicURI.String(),
		EnvDelegateURI:       c.DelegateURI.String(),
		EnvMonitoringURI:     c.MonitoringURI.String(),
		EnvEntryURIs:         strings.Join(c.FilteredEntryPeers(), ","),
		EnvNodeToAgent:       inPath,
		EnvAgentToNode:       outPath,
		EnvRecordAddress:     c.Record.Address,
		EnvRecordPublicKey:   c.Record.PublicKey,
		EnvRecordPeerKey:     c.Record.RepresentativePublicKey,
		EnvRecordSignature:   c.Record.Signature,
		EnvRecordServiceID:   serviceID,
		EnvRecordLedgerID:    c.Record.LedgerID,
		EnvRegistrationDelay: strconv.FormatFloat(c.RegistrationDelay.Seconds(), 'f', -1, 64),
		EnvStoragePath:       c.StoragePath,
		EnvMailboxURI:        c.MailboxURI,
	}
}

// writeEnvFile writes env to path readable by the owner only, since it carries
// the node's key.
func writeEnvFile(path string, env map[string]string) error {
	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("rendering node environment: %w", err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing node environment %s: %w", path, err)
	}
	return nil
}

// redactEnv returns the rendered handoff content with the node key masked, for logs.
func redactEnv(env map[string]string) string {
	masked := make(map[string]string, len(env))
	for k, v := range env {
		masked[k] = v
	}
	if masked[EnvNodeKey] != "" {
		masked[EnvNodeKey] = "<redacted>"
	}
	content, err := godotenv.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("<unrenderable: %v>", err)
	}
	return content
}
