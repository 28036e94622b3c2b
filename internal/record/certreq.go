// ABOUTME: Certificate requests that ask the agent's ledger key to vouch for the node key.
// ABOUTME: Renders the message to sign and loads the signature produced out of band.

package record

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMessageFormat signs the representative public key alone.
const DefaultMessageFormat = "{public_key}"

// CertRequest describes one signature the agent's ledger key produced over the
// node's public key.
type CertRequest struct {
	Identifier    string `yaml:"identifier" toml:"identifier"`
	LedgerID      string `yaml:"ledger_id" toml:"ledger_id"`
	NotBefore     string `yaml:"not_before" toml:"not_before"`
	NotAfter      string `yaml:"not_after" toml:"not_after"`
	MessageFormat string `yaml:"message_format" toml:"message_format"`
	SavePath      string `yaml:"save_path" toml:"save_path"`
}

// Message renders the signed message for the given representative public key.
func (r CertRequest) Message(publicKey string) string {
	format := r.MessageFormat
	if format == "" {
		format = DefaultMessageFormat
	}
	return strings.NewReplacer(
		"{public_key}", publicKey,
		"{identifier}", r.Identifier,
		"{not_before}", r.NotBefore,
		"{not_after}", r.NotAfter,
	).Replace(format)
}

// SignaturePath resolves SavePath against dataDir when it is relative.
func (r CertRequest) SignaturePath(dataDir string) string {
	if r.SavePath == "" || filepath.IsAbs(r.SavePath) || dataDir == "" {
		return r.SavePath
	}
	return filepath.Join(dataDir, r.SavePath)
}

// Signature reads the signature file written when the certificate was issued.
func (r CertRequest) Signature(dataDir string) (string, error) {
	if r.SavePath == "" {
		return "", fmt.Errorf("%w: certificate request %q has no save_path", ErrInvalidRecord, r.Identifier)
	}
	path := r.SignaturePath(dataDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: reading signature for %q: %v", ErrInvalidRecord, r.Identifier, err)
	}
	sig := strings.TrimSpace(string(data))
	if sig == "" {
		return "", fmt.Errorf("%w: signature file %s is empty", ErrInvalidRecord, path)
	}
	return sig, nil
}
