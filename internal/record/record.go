// ABOUTME: AgentRecord, the proof that a node key represents an agent's ledger identity.
// ABOUTME: Built from a certificate request and checked against the ledger's address and signature rules.

// Package record builds and verifies proofs of representation.
//
// An AgentRecord binds the external node's own keypair (the representative key)
// to the agent's ledger identity. The agent's ledger key signs a message naming
// the representative key; the node forwards the record so remote peers can
// check it.
package record

import (
	"errors"
	"fmt"
)

// DefaultServiceID is the service a record is issued for.
const DefaultServiceID = "acn"

var (
	// ErrInvalidRecord indicates a record whose fields do not verify.
	ErrInvalidRecord = errors.New("invalid agent record")
	// ErrUnsupportedLedger indicates a ledger outside SupportedLedgers.
	ErrUnsupportedLedger = errors.New("unsupported ledger")
)

// AgentRecord is an immutable proof of representation.
type AgentRecord struct {
	Address                 string
	PublicKey               string
	RepresentativePublicKey string
	Signature               string
	LedgerID                string
	ServiceID               string
	Message                 string
}

// FromCertRequest assembles the record for address from req. The owner public
// key is recovered from the signature and must derive address on the request's
// ledger.
func FromCertRequest(req CertRequest, address, representativePublicKey, dataDir string) (AgentRecord, error) {
	l, err := lookupLedger(req.LedgerID)
	if err != nil {
		return AgentRecord{}, err
	}
	sig, err := req.Signature(dataDir)
	if err != nil {
		return AgentRecord{}, err
	}
	message := req.Message(representativePublicKey)

	candidates, err := l.recover([]byte(message), sig)
	if err != nil {
		return AgentRecord{}, err
	}
	for _, pub := range candidates {
		derived, err := l.address(pub)
		if err != nil {
			continue
		}
		if l.sameAddress(derived, address) {
			return AgentRecord{
				Address:                 address,
				PublicKey:               pub,
				RepresentativePublicKey: representativePublicKey,
				Signature:               sig,
				LedgerID:                req.LedgerID,
				ServiceID:               DefaultServiceID,
				Message:                 message,
			}, nil
		}
	}
	return AgentRecord{}, fmt.Errorf("%w: signature of %q was not made by the key of %s", ErrInvalidRecord, req.Identifier, address)
}

// Verify checks that PublicKey derives Address and that Signature signs Message
// with PublicKey.
func (r AgentRecord) Verify() error {
	l, err := lookupLedger(r.LedgerID)
	if err != nil {
		return err
	}
	derived, err := l.address(r.PublicKey)
	if err != nil {
		return err
	}
	if !l.sameAddress(derived, r.Address) {
		return fmt.Errorf("%w: address %s does not match public key (derived %s)", ErrInvalidRecord, r.Address, derived)
	}
	candidates, err := l.recover([]byte(r.Message), r.Signature)
	if err != nil {
		return err
	}
	for _, pub := range candidates {
		if other, err := l.address(pub); err == nil && l.sameAddress(other, derived) {
			return nil
		}
	}
	return fmt.Errorf("%w: signature does not verify against the public key", ErrInvalidRecord)
}
