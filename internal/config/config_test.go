// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/record"
)

const validYAML = `
peer:
  ledger_id: "cosmos"
  agent_address: "cosmos1agent"
  private_key: "${TEST_PEER_KEY}"
  local_uri: "0.0.0.0:9000"
  public_uri: "node.example.com:9000"
  entry_peers:
    - "/dns4/entry.example.com/tcp/9000/p2p/16Uiu2HAkw1VyY3RkiuMy38XKjb6w9EhbtXfwHkRpbQzNvXYVkG1T"
  storage_path: "records.db"
  peer_registration_delay: "0.5"

node:
  binary: "/usr/local/bin/libp2p_node"
  data_dir: "data"
  ipc: "fifo"
  max_restarts: 0
  connection_timeout: "30s"

cert_requests:
  - identifier: "acn"
    ledger_id: "cosmos"
    not_before: "2024-01-01"
    not_after: "2025-01-01"
    save_path: "acn_cert.txt"

database:
  path: "/var/lib/coven/peer.db"

logging:
  level: "debug"
  format: "json"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	t.Setenv("TEST_PEER_KEY", "abc123")
	path := writeConfig(t, "peer.yaml", validYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Peer.LedgerID != "cosmos" {
		t.Errorf("expected ledger cosmos, got %q", cfg.Peer.LedgerID)
	}
	if cfg.Peer.PrivateKey != "abc123" {
		t.Errorf("expected private key from env, got %q", cfg.Peer.PrivateKey)
	}
	if len(cfg.Peer.EntryPeers) != 1 {
		t.Errorf("expected 1 entry peer, got %d", len(cfg.Peer.EntryPeers))
	}
	if cfg.Peer.RegistrationDelay != 500*time.Millisecond {
		t.Errorf("expected registration delay 500ms, got %v", cfg.Peer.RegistrationDelay)
	}
	if cfg.Node.ConnectionTimeout != 30*time.Second {
		t.Errorf("expected connection timeout 30s, got %v", cfg.Node.ConnectionTimeout)
	}
	if cfg.Node.MaxRestarts == nil || *cfg.Node.MaxRestarts != 0 {
		t.Errorf("expected explicit max_restarts 0, got %v", cfg.Node.MaxRestarts)
	}

	dataDir := filepath.Join(filepath.Dir(path), "data")
	if cfg.Node.DataDir != dataDir {
		t.Errorf("expected data dir %q, got %q", dataDir, cfg.Node.DataDir)
	}
	if cfg.Peer.StoragePath != filepath.Join(dataDir, "records.db") {
		t.Errorf("expected storage path under data dir, got %q", cfg.Peer.StoragePath)
	}
	if cfg.Database.Path != "/var/lib/coven/peer.db" {
		t.Errorf("absolute database path should be kept, got %q", cfg.Database.Path)
	}

	if len(cfg.CertRequests) != 1 {
		t.Fatalf("expected 1 cert request, got %d", len(cfg.CertRequests))
	}
	req := cfg.CertRequests[0]
	if req.Identifier != "acn" || req.LedgerID != "cosmos" || req.SavePath != "acn_cert.txt" {
		t.Errorf("unexpected cert request: %+v", req)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %q", cfg.Logging.Format)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[peer]
agent_address = "fetch1agent"
private_key = "abc123"
entry_peers = ["/dns4/entry.example.com/tcp/9000/p2p/16Uiu2HAkw1VyY3RkiuMy38XKjb6w9EhbtXfwHkRpbQzNvXYVkG1T"]
peer_registration_delay = "250ms"

[node]
binary = "libp2p_node"

[[cert_requests]]
identifier = "acn"
ledger_id = "fetchai"
save_path = "acn_cert.txt"
`
	path := writeConfig(t, "peer.toml", content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Peer.AgentAddress != "fetch1agent" {
		t.Errorf("expected agent address, got %q", cfg.Peer.AgentAddress)
	}
	if cfg.Peer.RegistrationDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Peer.RegistrationDelay)
	}
	if len(cfg.CertRequests) != 1 || cfg.CertRequests[0].LedgerID != record.LedgerFetchAI {
		t.Errorf("unexpected cert requests: %+v", cfg.CertRequests)
	}
}

func TestLoad_RegistrationDelayNumber(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    time.Duration
	}{
		{
			name:    "toml float",
			file:    "peer.toml",
			content: "[peer]\nagent_address = \"fetch1agent\"\nprivate_key = \"abc123\"\npeer_registration_delay = 1.5\n\n[node]\nbinary = \"libp2p_node\"\n\n[[cert_requests]]\nidentifier = \"acn\"\n",
			want:    1500 * time.Millisecond,
		},
		{
			name:    "toml integer",
			file:    "peer.toml",
			content: "[peer]\nagent_address = \"fetch1agent\"\nprivate_key = \"abc123\"\npeer_registration_delay = 2\n\n[node]\nbinary = \"libp2p_node\"\n\n[[cert_requests]]\nidentifier = \"acn\"\n",
			want:    2 * time.Second,
		},
		{
			name:    "yaml float",
			file:    "peer.yaml",
			content: "peer:\n  agent_address: \"fetch1agent\"\n  private_key: \"abc123\"\n  peer_registration_delay: 1.5\nnode:\n  binary: \"libp2p_node\"\ncert_requests:\n  - identifier: \"acn\"\n",
			want:    1500 * time.Millisecond,
		},
		{
			name:    "yaml integer",
			file:    "peer.yaml",
			content: "peer:\n  agent_address: \"fetch1agent\"\n  private_key: \"abc123\"\n  peer_registration_delay: 3\nnode:\n  binary: \"libp2p_node\"\ncert_requests:\n  - identifier: \"acn\"\n",
			want:    3 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Peer.RegistrationDelay != tt.want {
				t.Errorf("expected registration delay %v, got %v", tt.want, cfg.Peer.RegistrationDelay)
			}
		})
	}
}

func TestLoad_RegistrationDelayRejectsList(t *testing.T) {
	content := "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\n  peer_registration_delay: [1]\nnode:\n  binary: \"b\"\ncert_requests:\n  - identifier: \"acn\"\n"
	if _, err := Load(writeConfig(t, "peer.yaml", content)); err == nil {
		t.Fatal("expected error for a list delay")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
peer:
  agent_address: "fetch1agent"
  private_key_file: "node.key"
node:
  binary: "libp2p_node"
cert_requests:
  - identifier: "acn"
    save_path: "acn_cert.txt"
`
	path := writeConfig(t, "peer.yaml", content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Peer.LedgerID != DefaultLedgerID {
		t.Errorf("expected default ledger, got %q", cfg.Peer.LedgerID)
	}
	if cfg.Node.DataDir != filepath.Dir(path) {
		t.Errorf("expected data dir to default to config dir, got %q", cfg.Node.DataDir)
	}
	if cfg.Node.LogFile != node.DefaultLogFile || cfg.Node.EnvFile != node.DefaultEnvFile {
		t.Errorf("unexpected node files %q %q", cfg.Node.LogFile, cfg.Node.EnvFile)
	}
	if cfg.Node.IPC != "tcp" {
		t.Errorf("expected tcp ipc, got %q", cfg.Node.IPC)
	}
	if cfg.Node.MaxRestarts == nil || *cfg.Node.MaxRestarts != node.DefaultMaxRestarts {
		t.Errorf("expected default max restarts, got %v", cfg.Node.MaxRestarts)
	}
	if cfg.Node.ConnectionTimeout != node.DefaultConnectionTimeout {
		t.Errorf("expected default timeout, got %v", cfg.Node.ConnectionTimeout)
	}
	if cfg.Peer.PrivateKeyFile != filepath.Join(filepath.Dir(path), "node.key") {
		t.Errorf("expected key file under data dir, got %q", cfg.Peer.PrivateKeyFile)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing agent address",
			content: "peer:\n  private_key: \"k\"\nnode:\n  binary: \"b\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "peer.agent_address is required",
		},
		{
			name:    "missing key",
			content: "peer:\n  agent_address: \"a\"\nnode:\n  binary: \"b\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "peer.private_key or peer.private_key_file is required",
		},
		{
			name:    "missing binary",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "node.binary is required",
		},
		{
			name:    "unknown ipc",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\nnode:\n  binary: \"b\"\n  ipc: \"shm\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "node.ipc",
		},
		{
			name:    "no cert request",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\nnode:\n  binary: \"b\"\n",
			wantErr: "cert_requests must contain exactly one entry",
		},
		{
			name:    "bad duration",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\nnode:\n  binary: \"b\"\n  connection_timeout: \"soon\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "connection_timeout",
		},
		{
			name:    "bad delay",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\n  peer_registration_delay: \"later\"\nnode:\n  binary: \"b\"\ncert_requests:\n  - identifier: \"acn\"\n",
			wantErr: "peer_registration_delay",
		},
		{
			name:    "bad log format",
			content: "peer:\n  agent_address: \"a\"\n  private_key: \"k\"\nnode:\n  binary: \"b\"\ncert_requests:\n  - identifier: \"acn\"\nlogging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "peer.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/peer.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	got := expandEnvVars("a ${TEST_VAR} b ${UNSET_TEST_VAR_XYZ} c")
	if got != "a value b  c" {
		t.Errorf("unexpected expansion %q", got)
	}
}

func TestNodeKey(t *testing.T) {
	cfg := &Config{Peer: PeerConfig{PrivateKey: "  abc  "}}
	key, err := cfg.NodeKey()
	if err != nil || key != "abc" {
		t.Errorf("expected inline key, got %q, %v", key, err)
	}

	path := filepath.Join(t.TempDir(), "node.key")
	if err := os.WriteFile(path, []byte("def456\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg = &Config{Peer: PeerConfig{PrivateKeyFile: path}}
	key, err = cfg.NodeKey()
	if err != nil || key != "def456" {
		t.Errorf("expected key from file, got %q, %v", key, err)
	}

	cfg = &Config{Peer: PeerConfig{PrivateKeyFile: filepath.Join(t.TempDir(), "missing")}}
	if _, err := cfg.NodeKey(); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestParseSeconds(t *testing.T) {
	tests := map[string]time.Duration{
		"1":     time.Second,
		"0.25":  250 * time.Millisecond,
		"2s":    2 * time.Second,
		"150ms": 150 * time.Millisecond,
	}
	for in, want := range tests {
		got, err := parseSeconds(in)
		if err != nil || got != want {
			t.Errorf("parseSeconds(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
