// ABOUTME: Peer ID derivation: PublicKeyRecord -> multihash (identity or SHA-256) -> base58.
// ABOUTME: Digest functions are dispatched through an explicit DigestTable instead of a global registry.

package peerid

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// MaxInlineKeyLength is the largest serialized PublicKeyRecord that is inlined
// into the peer ID with the identity digest instead of being hashed.
const MaxInlineKeyLength = 42

// DigestFunc computes the digest of data for one multihash function code.
type DigestFunc func(data []byte) []byte

// DigestTable maps multihash function codes to digest functions.
type DigestTable map[uint64]DigestFunc

// DefaultDigests returns a fresh table holding the two functions peer IDs use.
func DefaultDigests() DigestTable {
	return DigestTable{
		multihash.IDENTITY: func(data []byte) []byte {
			return append([]byte(nil), data...)
		},
		multihash.SHA2_256: func(data []byte) []byte {
			sum := sha256.Sum256(data)
			return sum[:]
		},
	}
}

// Digest computes the multihash of data using the function registered for code in table.
func Digest(table DigestTable, code uint64, data []byte) (multihash.Multihash, error) {
	fn, ok := table[code]
	if !ok {
		return nil, fmt.Errorf("no digest function for multihash code 0x%x", code)
	}
	mh, err := multihash.Encode(fn(data), code)
	if err != nil {
		return nil, fmt.Errorf("encoding multihash: %w", err)
	}
	return mh, nil
}

// DerivePeerID computes the peer ID of a hex-encoded public key.
func DerivePeerID(publicKeyHex string, kt KeyType) (string, error) {
	return DerivePeerIDWith(DefaultDigests(), publicKeyHex, kt)
}

// DerivePeerIDWith is DerivePeerID with an explicit digest table.
func DerivePeerIDWith(table DigestTable, publicKeyHex string, kt KeyType) (string, error) {
	rec, err := NewPublicKeyRecord(publicKeyHex, kt)
	if err != nil {
		return "", err
	}
	return PeerIDFromRecord(table, rec)
}

// PeerIDFromRecord computes the peer ID of an already normalized record.
func PeerIDFromRecord(table DigestTable, rec PublicKeyRecord) (string, error) {
	data := rec.Marshal()
	code := uint64(multihash.SHA2_256)
	if len(data) <= MaxInlineKeyLength {
		code = multihash.IDENTITY
	}
	mh, err := Digest(table, code, data)
	if err != nil {
		return "", err
	}
	return base58.Encode(mh), nil
}

// DecodePeerID decodes a base58 peer ID into its multihash.
func DecodePeerID(id string) (*multihash.DecodedMultihash, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty peer id", ErrMalformedAddress)
	}
	raw, err := base58.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("%w: peer id is not base58: %v", ErrMalformedAddress, err)
	}
	dmh, err := multihash.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: peer id is not a multihash: %v", ErrMalformedAddress, err)
	}
	return dmh, nil
}

// ValidatePeerID checks that id is a base58 multihash.
func ValidatePeerID(id string) error {
	_, err := DecodePeerID(id)
	return err
}

// ErrKeyNotInlined is returned by PublicKeyFromPeerID for peer IDs whose key was hashed.
var ErrKeyNotInlined = errors.New("peer id does not embed its public key")

// PublicKeyFromPeerID recovers the PublicKeyRecord embedded in an inlined peer ID.
func PublicKeyFromPeerID(id string) (PublicKeyRecord, error) {
	dmh, err := DecodePeerID(id)
	if err != nil {
		return PublicKeyRecord{}, err
	}
	if dmh.Code != multihash.IDENTITY {
		return PublicKeyRecord{}, ErrKeyNotInlined
	}
	return UnmarshalPublicKeyRecord(dmh.Digest)
}
