package credentials

import (
	"bytes"
	"strings"
	"testing"
)

func TestTokenCipherRoundTrip(t *testing.T) {
	c, err := NewTokenCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	tests := []string{
		"ya29.a0AfB_short_token",
		"",
		strings.Repeat("x", 8192),
		"token with spaces and unicode éè",
	}

	for _, plaintext := range tests {
		enc, err := c.EncryptString(plaintext)
		if err != nil {
			t.Fatalf("EncryptString failed: %v", err)
		}
		if enc == plaintext && plaintext != "" {
			t.Error("Ciphertext equals plaintext")
		}

		dec, err := c.DecryptString(enc)
		if err != nil {
			t.Fatalf("DecryptString failed: %v", err)
		}
		if dec != plaintext {
			t.Errorf("Round trip mismatch: got %q, want %q", dec, plaintext)
		}
	}
}

func TestTokenCipherNonceVaries(t *testing.T) {
	c, err := NewTokenCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	a, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("Expected distinct ciphertexts for repeated plaintext")
	}
}

func TestTokenCipherTamperedCiphertext(t *testing.T) {
	c, err := NewTokenCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	enc, err := c.Encrypt([]byte("secret token"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	enc[len(enc)-1] ^= 0xff
	if _, err := c.Decrypt(enc); err == nil {
		t.Error("Expected tampered ciphertext to fail authentication")
	}
}

func TestTokenCipherShortCiphertext(t *testing.T) {
	c, err := NewTokenCipher("test-secret-key")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	if _, err := c.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("Expected error for ciphertext shorter than nonce")
	}
}

func TestTokenCipherWrongKey(t *testing.T) {
	a, err := NewTokenCipher("key-one")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}
	b, err := NewTokenCipher("key-two")
	if err != nil {
		t.Fatalf("NewTokenCipher failed: %v", err)
	}

	enc, err := a.EncryptString("secret token")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	if _, err := b.DecryptString(enc); err == nil {
		t.Error("Expected decryption under a different key to fail")
	}
}

func TestNewTokenCipherRequiresKey(t *testing.T) {
	if _, err := NewTokenCipher(""); err == nil {
		t.Error("Expected error for empty key")
	}
}
