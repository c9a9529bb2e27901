// Package sealer provides authenticated encryption for data at rest.
//
// A Sealer wraps an AEAD (AES-256-GCM or ChaCha20-Poly1305). Keys are
// derived from an operator-supplied secret with HKDF-SHA256 so that one
// secret can protect several independent streams, each under its own
// purpose label.
//
// Usage:
//
//	s, err := sealer.FromSecret(secret, sealer.ChaCha20, "graphmesh/wal")
//	sealed, err := s.Seal(plaintext, aad)
//	plaintext, err := s.Open(sealed, aad)
//
// Sealed output is [nonce][ciphertext+tag]. A Sealer is safe for
// concurrent use.
package sealer
