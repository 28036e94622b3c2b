// Package peerid derives and encodes peer identities for the agent communication network.
//
// # Peer IDs
//
// A peer ID is computed from a public key the same way every other node in the
// network computes it:
//
//  1. The key is wrapped in a PublicKeyRecord {type, data} and serialized with the
//     protobuf wire format.
//  2. Records of at most 42 bytes are inlined with the identity digest; larger
//     records are hashed with SHA-256.
//  3. The digest is wrapped in a multihash and encoded in base58.
//
// secp256k1 keys serialize to 37 bytes and are therefore always inlined, which is
// why their IDs start with "16Uiu2HA" and why the key can be recovered from the ID
// alone (see PublicKeyFromPeerID).
//
// Digest functions are looked up in a DigestTable that is passed explicitly; the
// package keeps no global hash registry.
//
// # Multiaddresses
//
// Only the fixed shape used by this network is supported:
//
//	/dns4/{host}/tcp/{port}/p2p/{peerID}
//
// ParseMultiAddr checks the shape only. ValidatePeerID checks that a peer ID
// decodes to a well-formed multihash.
package peerid
