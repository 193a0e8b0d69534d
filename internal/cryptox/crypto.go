// Package cryptox derives keys from a passphrase and encrypts small JSON
// payloads (stored credentials) with AES-GCM.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

const nonceSize = 12

var ErrShortCiphertext = errors.New("ciphertext too short")

// MakeVerifier returns a digest of the master key that can be stored and
// compared later without revealing the key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// DeriveMasterKey stretches a passphrase into a 32-byte AES-256 key (argon2id).
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// EncryptEntry serializes entry to JSON and encrypts it using AES-GCM with a
// fresh random 12-byte nonce. The key must be 16, 24 or 32 bytes long.
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// DecryptEntry decrypts ciphertext produced by EncryptEntry and unmarshals
// the JSON into v.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

// SealEntry is EncryptEntry with the nonce prepended to the ciphertext, so the
// result can be stored as a single blob.
func SealEntry(entry any, key []byte) ([]byte, error) {
	ciphertext, nonce, err := EncryptEntry(entry, key)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// OpenEntry reverses SealEntry.
func OpenEntry(blob, key []byte, v any) error {
	if len(blob) <= nonceSize {
		return ErrShortCiphertext
	}
	return DecryptEntry(blob[nonceSize:], blob[:nonceSize], key, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
