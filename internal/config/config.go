// ABOUTME: Configuration loading and parsing for coven-peer
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-peer/internal/ipc"
	"github.com/2389/coven-peer/internal/node"
	"github.com/2389/coven-peer/internal/record"
)

// DefaultLedgerID is used when peer.ledger_id is not set.
const DefaultLedgerID = record.LedgerFetchAI

// Config represents the complete coven-peer configuration
type Config struct {
	Peer         PeerConfig           `yaml:"peer" toml:"peer"`
	Node         NodeConfig           `yaml:"node" toml:"node"`
	CertRequests []record.CertRequest `yaml:"cert_requests" toml:"cert_requests"`
	Database     DatabaseConfig       `yaml:"database" toml:"database"`
	Logging      LoggingConfig        `yaml:"logging" toml:"logging"`
}

// PeerConfig describes the agent's identity on the network and how the node
// is reachable.
type PeerConfig struct {
	LedgerID     string `yaml:"ledger_id" toml:"ledger_id"`
	AgentAddress string `yaml:"agent_address" toml:"agent_address"`
	// PrivateKey is the node's hex secp256k1 key. PrivateKeyFile is read
	// instead when PrivateKey is empty.
	PrivateKey     string `yaml:"private_key" toml:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file" toml:"private_key_file"`

	LocalURI      string   `yaml:"local_uri" toml:"local_uri"`
	PublicURI     string   `yaml:"public_uri" toml:"public_uri"`
	DelegateURI   string   `yaml:"delegate_uri" toml:"delegate_uri"`
	MonitoringURI string   `yaml:"monitoring_uri" toml:"monitoring_uri"`
	MailboxURI    string   `yaml:"mailbox_uri" toml:"mailbox_uri"`
	EntryPeers    []string `yaml:"entry_peers" toml:"entry_peers"`
	StoragePath   string   `yaml:"storage_path" toml:"storage_path"`

	RegistrationDelay time.Duration `yaml:"-" toml:"-"`

	// Raw value as written; a bare number is read as seconds
	RegistrationDelayRaw rawDuration `yaml:"peer_registration_delay" toml:"peer_registration_delay"`
}

// NodeConfig holds how the node process is run
type NodeConfig struct {
	Binary  string   `yaml:"binary" toml:"binary"`
	Args    []string `yaml:"args" toml:"args"`
	WorkDir string   `yaml:"work_dir" toml:"work_dir"`
	DataDir string   `yaml:"data_dir" toml:"data_dir"`
	LogFile string   `yaml:"log_file" toml:"log_file"`
	EnvFile string   `yaml:"env_file" toml:"env_file"`
	IPC     string   `yaml:"ipc" toml:"ipc"`
	// MaxRestarts is a pointer so an explicit 0 can be told apart from unset.
	MaxRestarts *int `yaml:"max_restarts" toml:"max_restarts"`

	ConnectionTimeout    time.Duration `yaml:"-" toml:"-"`
	ConnectionTimeoutRaw string        `yaml:"connection_timeout" toml:"connection_timeout"`
}

// DatabaseConfig holds the address book location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyDefaults fills unset fields. A relative data_dir is taken relative to
// the config file's directory; the node's files resolve under data_dir.
func (c *Config) applyDefaults(baseDir string) {
	if c.Peer.LedgerID == "" {
		c.Peer.LedgerID = DefaultLedgerID
	}
	if c.Node.DataDir == "" {
		c.Node.DataDir = baseDir
	} else if !filepath.IsAbs(c.Node.DataDir) {
		c.Node.DataDir = filepath.Join(baseDir, c.Node.DataDir)
	}
	if c.Node.LogFile == "" {
		c.Node.LogFile = node.DefaultLogFile
	}
	if c.Node.EnvFile == "" {
		c.Node.EnvFile = node.DefaultEnvFile
	}
	if c.Node.IPC == "" {
		c.Node.IPC = string(ipc.KindTCP)
	}
	if c.Node.MaxRestarts == nil {
		n := node.DefaultMaxRestarts
		c.Node.MaxRestarts = &n
	}
	if c.Node.ConnectionTimeout == 0 {
		c.Node.ConnectionTimeout = node.DefaultConnectionTimeout
	}
	c.Peer.StoragePath = c.ResolvePath(c.Peer.StoragePath)
	c.Peer.PrivateKeyFile = c.ResolvePath(c.Peer.PrivateKeyFile)
	c.Database.Path = c.ResolvePath(c.Database.Path)
}

// ResolvePath anchors a relative path under the node data directory. Empty
// paths stay empty.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Node.DataDir == "" {
		return p
	}
	return filepath.Join(c.Node.DataDir, p)
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
// Topology and key material are checked when the connection is built.
func (c *Config) Validate() error {
	if c.Peer.AgentAddress == "" {
		return fmt.Errorf("peer.agent_address is required")
	}
	if c.Peer.PrivateKey == "" && c.Peer.PrivateKeyFile == "" {
		return fmt.Errorf("peer.private_key or peer.private_key_file is required")
	}
	if c.Node.Binary == "" {
		return fmt.Errorf("node.binary is required")
	}
	if _, err := ipc.ParseKind(c.Node.IPC); err != nil {
		return fmt.Errorf("node.ipc: %w", err)
	}
	if c.Node.MaxRestarts != nil && *c.Node.MaxRestarts < 0 {
		return fmt.Errorf("node.max_restarts must not be negative")
	}
	if c.Node.ConnectionTimeout < 0 {
		return fmt.Errorf("node.connection_timeout must not be negative")
	}
	if c.Peer.RegistrationDelay < 0 {
		return fmt.Errorf("peer.peer_registration_delay must not be negative")
	}
	if len(c.CertRequests) != 1 {
		return fmt.Errorf("cert_requests must contain exactly one entry, got %d", len(c.CertRequests))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// NodeKey returns the node's private key, reading peer.private_key_file when
// peer.private_key is not set.
func (c *Config) NodeKey() (string, error) {
	if c.Peer.PrivateKey != "" {
		return strings.TrimSpace(c.Peer.PrivateKey), nil
	}
	data, err := os.ReadFile(c.Peer.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading private key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Node.ConnectionTimeoutRaw != "" {
		cfg.Node.ConnectionTimeout, err = time.ParseDuration(cfg.Node.ConnectionTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing connection_timeout %q: %w", cfg.Node.ConnectionTimeoutRaw, err)
		}
	}

	if cfg.Peer.RegistrationDelayRaw != "" {
		cfg.Peer.RegistrationDelay, err = parseSeconds(string(cfg.Peer.RegistrationDelayRaw))
		if err != nil {
			return fmt.Errorf("parsing peer_registration_delay %q: %w", cfg.Peer.RegistrationDelayRaw, err)
		}
	}

	return nil
}

// rawDuration keeps a duration as written, so a bare number decodes from both
// YAML and TOML.
type rawDuration string

func (d *rawDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number or duration", value.Line)
	}
	*d = rawDuration(value.Value)
	return nil
}

func (d *rawDuration) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		*d = rawDuration(v)
	case int64:
		*d = rawDuration(strconv.FormatInt(v, 10))
	case float64:
		*d = rawDuration(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Errorf("expected a number or duration, got %T", data)
	}
	return nil
}

// parseSeconds accepts a duration string or a bare number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
