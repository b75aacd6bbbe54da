// Package crypto provides the cryptographic primitives used by the Legion
// sale settlement engine.
//
// It contains:
//
//   - Ed25519 key and signature wrappers used to identify investors, the
//     project admin and the platform, and to verify platform attestations
//   - The sealed-bid cipher used by the auction sale variant: ECIES
//     (ephemeral ECDH P-256 + AES-256-GCM) over a salted bid quantity
//   - sha3-256 digest helpers shared by the attestation and distribution
//     verifiers
//
// Identities throughout the engine are hex-encoded public keys; the
// String() form is stable and safe to use as a map key.
package crypto
