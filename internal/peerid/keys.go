// ABOUTME: Key types and the PublicKeyRecord that is hashed into a peer ID.
// ABOUTME: Normalizes hex-encoded keys per algorithm and serializes them with the protobuf wire format.

package peerid

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidKey indicates key material that does not match its declared key type.
var ErrInvalidKey = errors.New("invalid key")

// KeyType tags the algorithm of a key embedded in a PublicKeyRecord.
// The values are fixed by the network's wire format.
type KeyType int32

const (
	KeyTypeRSA       KeyType = 0
	KeyTypeEd25519   KeyType = 1
	KeyTypeSecp256k1 KeyType = 2
	KeyTypeECDSA     KeyType = 3
)

// String returns the lower-case name of the key type.
func (k KeyType) String() string {
	switch k {
	case KeyTypeRSA:
		return "rsa"
	case KeyTypeEd25519:
		return "ed25519"
	case KeyTypeSecp256k1:
		return "secp256k1"
	case KeyTypeECDSA:
		return "ecdsa"
	default:
		return fmt.Sprintf("keytype(%d)", int32(k))
	}
}

func (k KeyType) valid() bool {
	return k >= KeyTypeRSA && k <= KeyTypeECDSA
}

// ParseKeyType parses a key type name as returned by KeyType.String.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rsa":
		return KeyTypeRSA, nil
	case "ed25519":
		return KeyTypeEd25519, nil
	case "secp256k1", "":
		return KeyTypeSecp256k1, nil
	case "ecdsa":
		return KeyTypeECDSA, nil
	default:
		return 0, fmt.Errorf("%w: unknown key type %q", ErrInvalidKey, s)
	}
}

const (
	recordFieldType = protowire.Number(1)
	recordFieldData = protowire.Number(2)
)

// PublicKeyRecord is the serialized form of a public key that is digested into a peer ID.
type PublicKeyRecord struct {
	Type KeyType
	Data []byte
}

// Marshal encodes the record with the protobuf wire format. Both fields are
// always written, in field order, so the output is deterministic.
func (r PublicKeyRecord) Marshal() []byte {
	b := make([]byte, 0, len(r.Data)+8)
	b = protowire.AppendTag(b, recordFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Type))
	b = protowire.AppendTag(b, recordFieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Data)
	return b
}

// UnmarshalPublicKeyRecord decodes a record produced by Marshal (or any other
// conforming encoder). Unknown fields are skipped.
func UnmarshalPublicKeyRecord(b []byte) (PublicKeyRecord, error) {
	var rec PublicKeyRecord
	var sawType, sawData bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKey, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == recordFieldType && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKey, protowire.ParseError(m))
			}
			rec.Type = KeyType(int32(v))
			sawType = true
			b = b[m:]
		case num == recordFieldData && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKey, protowire.ParseError(m))
			}
			rec.Data = append([]byte(nil), v...)
			sawData = true
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return PublicKeyRecord{}, fmt.Errorf("%w: %v", ErrInvalidKey, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	if !sawType || !sawData {
		return PublicKeyRecord{}, fmt.Errorf("%w: record is missing type or data", ErrInvalidKey)
	}
	return rec, nil
}

// NewPublicKeyRecord decodes publicKeyHex and normalizes it to the canonical
// encoding for kt:
//
//   - secp256k1: compressed 33-byte point; compressed, uncompressed (65 bytes) and
//     raw X||Y (64 bytes) inputs are accepted and must lie on the curve
//   - ed25519: the 32-byte public key
//   - rsa, ecdsa: DER-encoded PKIX public key
func NewPublicKeyRecord(publicKeyHex string, kt KeyType) (PublicKeyRecord, error) {
	if !kt.valid() {
		return PublicKeyRecord{}, fmt.Errorf("%w: unsupported key type %s", ErrInvalidKey, kt)
	}
	raw, err := decodeHex(publicKeyHex)
	if err != nil {
		return PublicKeyRecord{}, err
	}

	switch kt {
	case KeyTypeSecp256k1:
		compressed, err := CompressSecp256k1(raw)
		if err != nil {
			return PublicKeyRecord{}, err
		}
		return PublicKeyRecord{Type: kt, Data: compressed}, nil
	case KeyTypeEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKeyRecord{}, fmt.Errorf("%w: ed25519 key must be %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
		}
		return PublicKeyRecord{Type: kt, Data: raw}, nil
	default:
		if _, err := x509.ParsePKIXPublicKey(raw); err != nil {
			return PublicKeyRecord{}, fmt.Errorf("%w: %s key is not PKIX DER: %v", ErrInvalidKey, kt, err)
		}
		return PublicKeyRecord{Type: kt, Data: raw}, nil
	}
}

// CompressSecp256k1 validates a secp256k1 public key and returns its compressed form.
func CompressSecp256k1(raw []byte) ([]byte, error) {
	switch len(raw) {
	case 33:
		pub, err := crypto.DecompressPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: secp256k1 point not on curve: %v", ErrInvalidKey, err)
		}
		return crypto.CompressPubkey(pub), nil
	case 64:
		raw = append([]byte{0x04}, raw...)
		fallthrough
	case 65:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: secp256k1 point not on curve: %v", ErrInvalidKey, err)
		}
		return crypto.CompressPubkey(pub), nil
	default:
		return nil, fmt.Errorf("%w: secp256k1 key has unexpected length %d", ErrInvalidKey, len(raw))
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return b, nil
}
