// Package codec seals telemetry payloads and remote commands with
// ChaCha20-Poly1305.
//
// Every blob has the layout
//
//	[Nonce: 12 bytes (random)] [Ciphertext: N bytes] [Tag: 16 bytes]
//
// and travels base64 encoded. The agent id is bound as additional
// authenticated data, so a blob opens only for the agent that sealed it.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
)

// KeySize is the required key length in bytes.
const KeySize = chacha20poly1305.KeySize

// Overhead is the number of bytes a sealed blob adds to its plaintext.
const Overhead = chacha20poly1305.NonceSize + chacha20poly1305.Overhead

// Codec encrypts and decrypts blobs under a single shared key.
// It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
}

// New creates a Codec for a 32 byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", internalerrors.ErrInvalidKey, len(key), KeySize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrInvalidKey, err)
	}
	return &Codec{aead: aead}, nil
}

// NewFromBase64 creates a Codec from a standard base64 encoded key.
func NewFromBase64(encoded string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not base64", internalerrors.ErrInvalidKey)
	}
	return New(key)
}

// GenerateKey returns a fresh random key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt seals plaintext for agentID. A nil plaintext or an empty agent id
// is rejected; an empty, non-nil plaintext is allowed.
func (c *Codec) Encrypt(plaintext []byte, agentID string) (string, error) {
	if plaintext == nil {
		return "", fmt.Errorf("%w: plaintext is absent", internalerrors.ErrCrypto)
	}
	if agentID == "" {
		return "", fmt.Errorf("%w: agent id is absent", internalerrors.ErrCrypto)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize, chacha20poly1305.NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", internalerrors.ErrCrypto, err)
	}

	// Seal appends ciphertext and tag after the nonce.
	blob := c.aead.Seal(nonce, nonce, plaintext, []byte(agentID))
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt opens a blob produced by Encrypt for the same agentID.
func (c *Codec) Decrypt(encoded string, agentID string) ([]byte, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent id is absent", internalerrors.ErrCrypto)
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: blob is not base64", internalerrors.ErrCrypto)
	}
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", internalerrors.ErrCrypto, len(blob), Overhead)
	}

	nonce := blob[:chacha20poly1305.NonceSize]
	ciphertext := blob[chacha20poly1305.NonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(agentID))
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", internalerrors.ErrCrypto)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
