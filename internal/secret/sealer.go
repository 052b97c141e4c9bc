// Package secret seals credential material before it reaches a store.
package secret

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix tags sealed values so plaintext rows written before sealing
// was enabled are still readable.
const sealedPrefix = "xc1:"

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("open sealed value")

// KeyParams are the Argon2id parameters used to turn the passphrase into a
// key. Changing any of them makes previously sealed values unreadable.
type KeyParams struct {
	Salt        []byte
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultKeyParams uses a fixed application salt: the passphrase is the only
// secret and there is one key per deployment.
var DefaultKeyParams = KeyParams{
	Salt:        []byte("avalanche-forecast-enricher/token-seal/v1"),
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
}

// DeriveKey stretches passphrase into a XChaCha20-Poly1305 key.
func DeriveKey(passphrase string, p KeyParams) []byte {
	return argon2.IDKey([]byte(passphrase), p.Salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

// Sealer encrypts short secrets with XChaCha20-Poly1305 under an Argon2id
// derived key.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key from passphrase with DefaultKeyParams. An empty
// passphrase is rejected.
func NewSealer(passphrase string) (*Sealer, error) {
	return NewSealerWithParams(passphrase, DefaultKeyParams)
}

// NewSealerWithParams is NewSealer with explicit key derivation parameters.
func NewSealerWithParams(passphrase string, p KeyParams) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("sealer passphrase is empty")
	}
	if len(p.Salt) == 0 {
		return nil, errors.New("sealer salt is empty")
	}
	aead, err := chacha20poly1305.NewX(DeriveKey(passphrase, p))
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext bound to context, which must be given again to Open.
func (s *Sealer) Seal(plaintext, context string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned unchanged.
func (s *Sealer) Open(sealed, context string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return "", fmt.Errorf("%w: value too short", ErrOpen)
	}
	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return string(plain), nil
}
