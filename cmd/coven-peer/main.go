// ABOUTME: Entry point for coven-peer, which runs an agent's libp2p node
// ABOUTME: Connects the agent to the network and inspects node identity and address book

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-peer/internal/config"
	"github.com/2389/coven-peer/internal/peerid"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __   ___  ___ _ __
 / __/ _ \ \ / / _ \ '_ \ _____| '_ \ / _ \/ _ \ '__|
| (_| (_) \ V /  __/ | | |_____| |_) |  __/  __/ |
 \___\___/ \_/ \___|_| |_|     | .__/ \___|\___|_|
                               |_|
`

// disconnectTimeout bounds shutdown once the run context is cancelled.
const disconnectTimeout = 15 * time.Second

// getConfigPath returns the path to the peer config file.
// Priority: COVEN_PEER_CONFIG env var > XDG_CONFIG_HOME/coven/peer.yaml > ~/.config/coven/peer.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_PEER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "peer.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "peer.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-peer <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run                        Start the node and connect to the network")
		fmt.Println("  check                      Validate the config and print the node identity")
		fmt.Println("  peer-id <pubkey> [type]    Derive a peer ID from a hex public key")
		fmt.Println("  addrs [peer-id]            List addresses recorded in the address book")
		fmt.Println("  version                    Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runRun(ctx)
	case "check":
		err = runCheck(os.Stdout)
	case "peer-id":
		err = runPeerID(os.Stdout, os.Args[2:])
	case "addrs":
		err = runAddrs(ctx, os.Stdout, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRun(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	book, err := openStore(cfg)
	if err != nil {
		return err
	}
	if book != nil {
		defer book.Close()
	}

	conn, err := buildConnection(cfg, book, logger)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Peer ID:   %s\n", conn.PeerID())
	green.Print("    ▶ ")
	fmt.Printf("Mode:      ")
	cyan.Println(conn.Mode())
	fmt.Println()

	logger.Info("starting coven-peer",
		"config", configPath,
		"peer_id", conn.PeerID(),
		"mode", conn.Mode(),
	)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		// The run context is already cancelled here.
		stopCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := conn.Disconnect(stopCtx); err != nil {
			logger.Error("disconnect failed", "error", err)
		}
	}()

	for _, addr := range conn.MultiAddrs() {
		logger.Info("node reachable", "multiaddr", addr.String())
	}

	for {
		frame, err := conn.Receive(ctx)
		switch {
		case err == nil:
			logger.Debug("frame received", "bytes", len(frame))
		case errors.Is(err, io.EOF):
			logger.Warn("node closed the connection")
			return nil
		case ctx.Err() != nil:
			logger.Info("shutting down")
			return nil
		default:
			return fmt.Errorf("receiving: %w", err)
		}
	}
}

func runCheck(out io.Writer) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := buildConnection(cfg, nil, setupLogger(cfg.Logging))
	if err != nil {
		return err
	}

	rec := conn.AgentRecord()
	fmt.Fprintf(out, "config:   %s\n", configPath)
	fmt.Fprintf(out, "peer id:  %s\n", conn.PeerID())
	fmt.Fprintf(out, "mode:     %s\n", conn.Mode())
	fmt.Fprintf(out, "ledger:   %s\n", rec.LedgerID)
	fmt.Fprintf(out, "address:  %s\n", rec.Address)
	fmt.Fprintf(out, "node:     %s\n", conn.Describe())
	return nil
}

func runPeerID(out io.Writer, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: coven-peer peer-id <public-key-hex> [rsa|ed25519|secp256k1|ecdsa]")
	}
	keyType := peerid.KeyTypeSecp256k1
	if len(args) == 2 {
		kt, err := peerid.ParseKeyType(args[1])
		if err != nil {
			return err
		}
		keyType = kt
	}

	id, err := peerid.DerivePeerID(args[0], keyType)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

func runAddrs(ctx context.Context, out io.Writer, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	book, err := openStore(cfg)
	if err != nil {
		return err
	}
	if book == nil {
		return fmt.Errorf("database.path is not configured")
	}
	defer book.Close()

	var peerID string
	if len(args) > 0 {
		peerID = args[0]
	}
	addrs, err := book.ListMultiAddrs(ctx, peerID)
	if err != nil {
		return err
	}

	if len(addrs) == 0 {
		fmt.Fprintln(out, "No addresses recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MULTIADDR\tSEEN")
	for _, a := range addrs {
		fmt.Fprintf(tw, "%s\t%s\n", a.MultiAddr, a.SeenAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
