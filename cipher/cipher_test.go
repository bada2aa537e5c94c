package cipher

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

// AES-128 of the zero block under the zero key.
const zeroVector = "66e94bd4ef8a2c3b884cfa59ca342b2e"

func TestDecryptKnownVector(t *testing.T) {
	want, _ := hex.DecodeString(zeroVector)

	got, err := Decrypt(make([]byte, KeySize), [2]byte{}, make([]byte, 16))
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Decrypt() = %x, want %x", got, want)
	}
}

func TestDecryptSelfInverse(t *testing.T) {
	key, err := NewKey([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewKey() error = %v", err)
	}
	nonce := [2]byte{0x3A, 0x9C}
	plain := []byte{0x00, 0x01, 0xE2, 0x04, 0x37, 0x00, 0x78, 0x00, 0x2D, 0x00, 0xFF, 0x01}

	ct := key.Decrypt(nonce, plain)
	if bytes.Equal(ct, plain) {
		t.Fatal("keystream left plaintext unchanged")
	}
	if got := key.Decrypt(nonce, ct); !bytes.Equal(got, plain) {
		t.Errorf("round trip = %x, want %x", got, plain)
	}
}

func TestDecryptLengths(t *testing.T) {
	key, _ := NewKey(make([]byte, KeySize))
	stream, _ := hex.DecodeString(zeroVector)

	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"short", 5},
		{"block", 16},
		{"long", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := bytes.Repeat([]byte{0xAA}, tt.size)
			got := key.Decrypt([2]byte{}, ct)
			if len(got) != tt.size {
				t.Fatalf("len = %d, want %d", len(got), tt.size)
			}
			for i := range got {
				want := byte(0xAA)
				if i < len(stream) {
					want ^= stream[i]
				}
				if got[i] != want {
					t.Errorf("byte %d = 0x%02X, want 0x%02X", i, got[i], want)
				}
			}
		})
	}
}

func TestDecryptDoesNotModifyInput(t *testing.T) {
	key, _ := NewKey(make([]byte, KeySize))
	ct := []byte{1, 2, 3, 4}
	key.Decrypt([2]byte{7, 7}, ct)
	if !bytes.Equal(ct, []byte{1, 2, 3, 4}) {
		t.Errorf("input modified: %v", ct)
	}
}

func TestNewKeyRejectsBadLength(t *testing.T) {
	for _, size := range []int{0, 15, 17, 32} {
		if _, err := NewKey(make([]byte, size)); !errors.Is(err, ErrKeySize) {
			t.Errorf("NewKey(%d bytes) error = %v, want ErrKeySize", size, err)
		}
	}
}

func TestNonceChangesKeystream(t *testing.T) {
	key, _ := NewKey(make([]byte, KeySize))
	a := key.Keystream([2]byte{0x00, 0x01})
	b := key.Keystream([2]byte{0x01, 0x00})
	if a == b {
		t.Error("different nonces produced the same keystream")
	}
}
