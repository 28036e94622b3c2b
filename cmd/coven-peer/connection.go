// ABOUTME: Translates the loaded coven-peer config into a peer connection configuration.
// ABOUTME: Opens the SQLite address book when a database path is configured.

package main

import (
	"fmt"
	"log/slog"

	"github.com/2389/coven-peer/internal/acn"
	"github.com/2389/coven-peer/internal/config"
	"github.com/2389/coven-peer/internal/ipc"
	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/store"
)

// connectionConfig maps cfg onto acn.Config. The address book is left unset.
func connectionConfig(cfg *config.Config) (acn.Config, error) {
	key, err := cfg.NodeKey()
	if err != nil {
		return acn.Config{}, err
	}
	kind, err := ipc.ParseKind(cfg.Node.IPC)
	if err != nil {
		return acn.Config{}, fmt.Errorf("node.ipc: %w", err)
	}

	opts := node.DefaultOptions()
	opts.BinaryPath = cfg.Node.Binary
	opts.Args = cfg.Node.Args
	opts.WorkDir = cfg.Node.WorkDir
	opts.DataDir = cfg.Node.DataDir
	opts.LogFile = cfg.Node.LogFile
	opts.EnvFile = cfg.Node.EnvFile
	opts.IPC = kind
	if cfg.Node.ConnectionTimeout > 0 {
		opts.ConnectionTimeout = cfg.Node.ConnectionTimeout
	}
	if cfg.Node.MaxRestarts != nil {
		opts.MaxRestarts = *cfg.Node.MaxRestarts
	}

	return acn.Config{
		LedgerID:          cfg.Peer.LedgerID,
		AgentAddress:      cfg.Peer.AgentAddress,
		NodePrivateKey:    key,
		CertRequests:      cfg.CertRequests,
		DataDir:           cfg.Node.DataDir,
		LocalURI:          cfg.Peer.LocalURI,
		PublicURI:         cfg.Peer.PublicURI,
		DelegateURI:       cfg.Peer.DelegateURI,
		MonitoringURI:     cfg.Peer.MonitoringURI,
		MailboxURI:        cfg.Peer.MailboxURI,
		EntryPeers:        cfg.Peer.EntryPeers,
		RegistrationDelay: cfg.Peer.RegistrationDelay,
		StoragePath:       cfg.Peer.StoragePath,
		Node:              opts,
	}, nil
}

// openStore opens the address book, or returns nil when none is configured.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening address book: %w", err)
	}
	return s, nil
}

// buildConnection creates a disconnected connection from cfg, recording into
// book when it is non-nil.
func buildConnection(cfg *config.Config, book store.Store, logger *slog.Logger) (*acn.Connection, error) {
	acnCfg, err := connectionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if book != nil {
		acnCfg.AddressBook = book
	}
	return acn.New(acnCfg, logger)
}
