package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Algorithm identifies the AEAD construction.
type Algorithm string

const (
	AESGCM   Algorithm = "aes-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the key length for every supported algorithm.
const KeySize = 32

// MinSecretLength is the minimum secret length accepted by FromSecret.
const MinSecretLength = 16

var (
	ErrShortCiphertext = errors.New("sealer: ciphertext too short")
	ErrOpenFailed      = errors.New("sealer: authentication failed")
	ErrSecretTooShort  = errors.New("sealer: secret shorter than 16 bytes")
)

// Sealer encrypts and authenticates byte slices.
type Sealer interface {
	Algorithm() Algorithm
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(sealed, additionalData []byte) ([]byte, error)
	Overhead() int
}

type aeadSealer struct {
	alg  Algorithm
	aead cipher.AEAD
}

// New creates a Sealer with a raw 32-byte key.
func New(key []byte, alg Algorithm) (Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealer: key must be %d bytes, got %d", KeySize, len(key))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case ChaCha20, "":
		alg = ChaCha20
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("sealer: unknown algorithm %q", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("sealer: init %s: %w", alg, err)
	}
	return &aeadSealer{alg: alg, aead: aead}, nil
}

// FromSecret derives a key for purpose from secret and returns a Sealer.
func FromSecret(secret []byte, alg Algorithm, purpose string) (Sealer, error) {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		return nil, err
	}
	return New(key, alg)
}

// DeriveKey derives a KeySize key from secret using HKDF-SHA256 with
// purpose as the info parameter.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("sealer: derive key: %w", err)
	}
	return key, nil
}

func (s *aeadSealer) Algorithm() Algorithm { return s.alg }

// Overhead returns nonce plus tag size.
func (s *aeadSealer) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

func (s *aeadSealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (s *aeadSealer) Open(sealed, additionalData []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], additionalData)
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
