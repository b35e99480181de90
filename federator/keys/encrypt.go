package keys

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrPassphraseRequired = errors.New("key file is encrypted: set FEDERATOR_KEY_PASSPHRASE")
	ErrDecryptionFailed   = errors.New("failed to decrypt key file: wrong passphrase or corrupted file")
)

const (
	saltLength       = 32
	nonceLength      = 12 // GCM nonce length
	keyLength        = 32 // AES-256
	pbkdf2Iterations = 100000
)

// encryptedMagic starts every encrypted key file. Plain files hold hex only.
var encryptedMagic = []byte("FEDKEY1\n")

func isEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, encryptedMagic)
}

// seal encrypts plaintext with a key derived from passphrase.
// Layout: magic || salt(32) || nonce(12) || ciphertext || tag(16).
func seal(plaintext []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(encryptedMagic)+saltLength+nonceLength+len(plaintext)+gcm.Overhead())
	out = append(out, encryptedMagic...)
	out = append(out, salt...)
	return gcm.Seal(append(out, nonce...), nonce, plaintext, nil), nil
}

// unseal reverses seal.
func unseal(data []byte, passphrase string) ([]byte, error) {
	if !isEncrypted(data) {
		return nil, ErrDecryptionFailed
	}
	data = data[len(encryptedMagic):]
	if len(data) < saltLength+nonceLength {
		return nil, ErrDecryptionFailed
	}
	salt := data[:saltLength]
	nonce := data[saltLength : saltLength+nonceLength]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[saltLength+nonceLength:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
