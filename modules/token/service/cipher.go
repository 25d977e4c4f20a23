package service

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "calendar-sync token vault v1"

var ErrCiphertext = errors.New("token: ciphertext is malformed or was tampered with")

// Cipher seals tokens with XChaCha20-Poly1305. Each value gets a fresh random
// nonce, stored in front of the ciphertext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the AEAD key from the configured master key.
func NewCipher(masterKey []byte) (*Cipher, error) {
	if len(masterKey) < chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token: master key must be at least %d bytes", chacha20poly1305.KeySize)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("token: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Seal binds the ciphertext to aad, so a value copied to another row fails to open.
func (c *Cipher) Seal(plaintext string, aad []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), aad), nil
}

func (c *Cipher) Open(sealed, aad []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if len(sealed) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", ErrCiphertext
	}
	nonce, body := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, body, aad)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plain), nil
}
