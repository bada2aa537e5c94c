// Package cipher recovers cleartext from encrypted manufacturer payloads.
//
// The keystream is a single AES-128 block: the 2-byte nonce followed by 14
// zero bytes, encrypted with the device key. Ciphertext is XORed against it;
// bytes past the first 16 see a zero keystream and pass through unchanged.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"errors"
	"fmt"
)

// KeySize is the length of a device key in bytes.
const KeySize = 16

// ErrKeySize is returned for keys that are not exactly KeySize bytes.
var ErrKeySize = errors.New("key must be 16 bytes")

// Key is a validated device key with its expanded block cipher.
type Key struct {
	block gocipher.Block
}

// NewKey validates raw and prepares it for Decrypt.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrKeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	return &Key{block: block}, nil
}

// Keystream returns the keystream block for nonce.
func (k *Key) Keystream(nonce [2]byte) [aes.BlockSize]byte {
	var counter, stream [aes.BlockSize]byte
	counter[0], counter[1] = nonce[0], nonce[1]
	k.block.Encrypt(stream[:], counter[:])
	return stream
}

// Decrypt returns ciphertext XORed with the keystream for nonce. The result
// has the same length as ciphertext. Decrypt is its own inverse.
func (k *Key) Decrypt(nonce [2]byte, ciphertext []byte) []byte {
	stream := k.Keystream(nonce)
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	n := min(len(out), len(stream))
	for i := 0; i < n; i++ {
		out[i] ^= stream[i]
	}
	return out
}

// Decrypt is a convenience wrapper for one-off decryption with a raw key.
func Decrypt(key []byte, nonce [2]byte, ciphertext []byte) ([]byte, error) {
	k, err := NewKey(key)
	if err != nil {
		return nil, err
	}
	return k.Decrypt(nonce, ciphertext), nil
}
