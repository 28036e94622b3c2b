// ABOUTME: Per-ledger address derivation and signature checks for proof of representation.
// ABOUTME: fetchai/cosmos use bech32(ripemd160(sha256(key))); ethereum uses keccak and EIP-191.

package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos addresses are defined over ripemd160
)

// Supported ledger identifiers.
const (
	LedgerFetchAI  = "fetchai"
	LedgerCosmos   = "cosmos"
	LedgerEthereum = "ethereum"
)

// SupportedLedgers lists the ledgers a record can be issued on, in display order.
var SupportedLedgers = []string{LedgerFetchAI, LedgerCosmos, LedgerEthereum}

// IsSupportedLedger reports whether id names a supported ledger.
func IsSupportedLedger(id string) bool {
	_, ok := ledgers[id]
	return ok
}

type ledger struct {
	// address derives the ledger address of a hex public key.
	address func(publicKey string) (string, error)
	// recover returns the hex public keys that could have produced signature over message.
	recover func(message []byte, signature string) ([]string, error)
	// sameAddress compares two addresses in the ledger's notation.
	sameAddress func(a, b string) bool
}

var ledgers = map[string]ledger{
	LedgerFetchAI: {
		address:     bech32Address("fetch"),
		recover:     recoverCosmosKeys,
		sameAddress: func(a, b string) bool { return a == b },
	},
	LedgerCosmos: {
		address:     bech32Address("cosmos"),
		recover:     recoverCosmosKeys,
		sameAddress: func(a, b string) bool { return a == b },
	},
	LedgerEthereum: {
		address:     ethereumAddress,
		recover:     recoverEthereumKey,
		sameAddress: sameEthereumAddress,
	},
}

func lookupLedger(id string) (ledger, error) {
	l, ok := ledgers[id]
	if !ok {
		return ledger{}, fmt.Errorf("%w: ledger %q is not one of %s", ErrUnsupportedLedger, id, strings.Join(SupportedLedgers, ", "))
	}
	return l, nil
}

// AddressFromPublicKey returns the ledger address of a hex-encoded secp256k1 key.
func AddressFromPublicKey(ledgerID, publicKey string) (string, error) {
	l, err := lookupLedger(ledgerID)
	if err != nil {
		return "", err
	}
	return l.address(publicKey)
}

func parseSecp256k1(publicKey string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(publicKey), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: public key is not hex: %v", ErrInvalidRecord, err)
	}
	switch len(raw) {
	case 33:
		if _, err := crypto.DecompressPubkey(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return raw, nil
	case 64:
		raw = append([]byte{0x04}, raw...)
	}
	pub, err := crypto.UnmarshalPubkey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return crypto.CompressPubkey(pub), nil
}

func bech32Address(prefix string) func(string) (string, error) {
	return func(publicKey string) (string, error) {
		compressed, err := parseSecp256k1(publicKey)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(compressed)
		h := ripemd160.New()
		h.Write(sum[:])
		conv, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
		if err != nil {
			return "", fmt.Errorf("converting address bits: %w", err)
		}
		return bech32.Encode(prefix, conv)
	}
}

func ethereumAddress(publicKey string) (string, error) {
	compressed, err := parseSecp256k1(publicKey)
	if err != nil {
		return "", err
	}
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func sameEthereumAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// recoverCosmosKeys handles base64 r||s signatures over sha256(message). The
// recovery id is not transmitted, so both candidates are returned.
func recoverCosmosKeys(message []byte, signature string) ([]string, error) {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64: %v", ErrInvalidRecord, err)
	}
	if len(sig) != 64 {
		return nil, fmt.Errorf("%w: signature must be 64 bytes, got %d", ErrInvalidRecord, len(sig))
	}
	digest := sha256.Sum256(message)

	var keys []string
	for v := byte(0); v < 2; v++ {
		pub, err := crypto.SigToPub(digest[:], append(bytes.Clone(sig), v))
		if err != nil {
			continue
		}
		compressed := crypto.CompressPubkey(pub)
		if !crypto.VerifySignature(compressed, digest[:], sig) {
			continue
		}
		keys = append(keys, hex.EncodeToString(compressed))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no public key recovers from signature", ErrInvalidRecord)
	}
	return keys, nil
}

// recoverEthereumKey handles 0x-hex r||s||v signatures with v in {27, 28}.
func recoverEthereumKey(message []byte, signature string) ([]string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not 0x-hex: %v", ErrInvalidRecord, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidRecord, crypto.SignatureLength, len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		return nil, fmt.Errorf("%w: V is not 27 or 28", ErrInvalidRecord)
	}
	sig[64] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return []string{"0x" + hex.EncodeToString(crypto.FromECDSAPub(pub)[1:])}, nil
}
