// Package config handles configuration loading for coven-peer.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion. Defaults are applied after
// parsing and Validate checks the fields that can be judged on their own;
// ledger, key material and network topology are checked when the peer
// connection is built.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_PEER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/peer.yaml
//  3. ~/.config/coven/peer.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	peer:
//	  private_key: "${COVEN_PEER_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Durations
//
// node.connection_timeout uses Go's time.ParseDuration syntax.
// peer.peer_registration_delay also accepts a bare number of seconds:
//
//	node:
//	  connection_timeout: "10s"
//	peer:
//	  peer_registration_delay: "0.5"
//
// # Configuration Sections
//
// Peer identity and reachability:
//
//	peer:
//	  ledger_id: "fetchai"               # fetchai, cosmos, ethereum
//	  agent_address: "fetch1..."
//	  private_key_file: "node.key"       # relative to node.data_dir
//	  local_uri: "0.0.0.0:9000"
//	  public_uri: "node.example.com:9000" # omit to run in relayed mode
//	  delegate_uri: "0.0.0.0:11000"
//	  entry_peers:
//	    - "/dns4/entry.example.com/tcp/9000/p2p/16Uiu2HA..."
//
// Node process:
//
//	node:
//	  binary: "/usr/local/bin/libp2p_node"
//	  data_dir: "/var/lib/coven-peer"
//	  ipc: "tcp"                         # tcp, fifo
//	  max_restarts: 5
//
// Certificate request (exactly one):
//
//	cert_requests:
//	  - identifier: "acn"
//	    ledger_id: "fetchai"
//	    not_before: "2024-01-01"
//	    not_after: "2025-01-01"
//	    message_format: "{public_key}"
//	    save_path: "acn_cert.txt"
//
// Address book and logging:
//
//	database:
//	  path: "peer.db"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/peer.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
