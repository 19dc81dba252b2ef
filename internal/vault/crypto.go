// Package vault keeps account secrets encrypted at rest with a single symmetric
// key stored in a key file. Losing the key file makes every stored secret
// unreadable; callers treat that as a fatal configuration error.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of the raw key stored in the key file.
const KeySize = chacha20poly1305.KeySize

// ErrInvalidCiphertext is returned by Decrypt when the input is not a token
// produced by this key: bad encoding, truncated, tampered or encrypted under
// another key. It is how plaintext secrets are told apart from ciphertext.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Cipher encrypts short secrets with XChaCha20-Poly1305.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a KeySize-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns nonce||ciphertext as unpadded base64url text.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure is reported as ErrInvalidCiphertext.
func (c *Cipher) Decrypt(text string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrInvalidCiphertext, err)
	}

	if len(raw) < chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}

	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrong key or tampered data", ErrInvalidCiphertext)
	}
	return string(plaintext), nil
}
