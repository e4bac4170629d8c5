// Package secrets encrypts tenant webhook links for storage at rest.
//
// The wire format is fixed by the data already in production databases:
// AES-256-CBC with PKCS#7 padding, a random 16-byte IV per encryption, and
// the result encoded as hex(iv) + ":" + hex(ciphertext). There is no key
// rotation; the key is supplied once per process from configuration.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

var (
	// ErrMalformed reports ciphertext not in the iv:cipher hex format.
	ErrMalformed = errors.New("malformed encrypted value")
	// ErrBadPadding reports an invalid padding on decryption, which is the
	// usual symptom of decrypting with the wrong key.
	ErrBadPadding = errors.New("invalid padding")
)

// Encrypt encrypts plaintext with the given 32-byte key, returning the
// iv:ciphertext hex pair.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cipher setup error: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv generation error: %w", err)
	}

	padded := pad([]byte(plaintext))
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(encrypted), nil
}

// Decrypt reverses Encrypt. Decrypting with a wrong key returns an error or,
// in the rare case the padding happens to validate, garbage; it never
// silently yields the original plaintext.
func Decrypt(encrypted string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	ivHex, cipherHex, found := strings.Cut(encrypted, ":")
	if !found {
		return "", ErrMalformed
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrMalformed
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrMalformed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cipher setup error: %w", err)
	}

	decrypted := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, ciphertext)

	unpadded, err := unpad(decrypted)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// pad applies PKCS#7 padding to a full block multiple.
func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad removes and validates PKCS#7 padding.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrBadPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrBadPadding
		}
	}
	return b[:len(b)-n], nil
}
