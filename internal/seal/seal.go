// Package seal provides optional at-rest encryption for the
// content-addressed chunk store: AES-256-GCM keyed by a PBKDF2-derived
// key, so a chunk store directory can be written and read back without
// ever persisting a password or raw key to disk.
//
// Adapted from internal/crypto/encrypt.go, narrowed to the one shape
// the chunk store sink needs (sink.Sealer) plus its inverse for
// reading a sealed store back.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 32
	// Iterations is the PBKDF2 round count.
	Iterations = 100000
)

// Key is a derived AES-256 key together with the salt it was derived
// from. The salt is not secret; it must be recorded alongside the
// chunk store (cmd/rabin keeps it in the chunk directory's .seal-salt
// file) so the same key can be rederived from the password to open
// the store later.
type Key struct {
	raw  []byte
	Salt []byte
}

// DeriveKey derives a Key from password via PBKDF2-HMAC-SHA256. Pass a
// nil salt to generate a fresh random one for a new store; pass the
// stored salt back to rederive the key for an existing one.
func DeriveKey(password string, salt []byte) (*Key, error) {
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, err
		}
	}
	return &Key{
		raw:  pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha256.New),
		Salt: salt,
	}, nil
}

// Seal encrypts plaintext with AES-256-GCM, implementing
// internal/sink's Sealer interface. The nonce is prepended to the
// returned ciphertext so Open needs nothing but the key.
func (k *Key) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, verifying the GCM authentication tag.
func (k *Key) Open(ciphertext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("seal: ciphertext shorter than nonce")
	}

	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, body, nil)
}

func (k *Key) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
