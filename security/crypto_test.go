package security

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

// TestCryptoManagerRoundTrip tests encryption and decryption with the same passkey
func TestCryptoManagerRoundTrip(t *testing.T) {
	cm, err := NewCryptoManager("correct horse")
	if err != nil {
		t.Fatalf("Failed to create crypto manager: %v", err)
	}

	messages := []string{
		"hello",
		"exactly 16 bytes",
		"",
		`{"type":"CHAT","text":"hi","senderIp":"10.0.0.1","timestamp":"2024-01-01 00:00:00"}`,
		"grüße, мир, 你好",
		strings.Repeat("x", 1000),
	}

	for _, msg := range messages {
		encrypted, err := cm.Encrypt(msg)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if strings.ContainsAny(encrypted, "\r\n") {
			t.Errorf("Transport form must be a single line, got %q", encrypted)
		}
		if decrypted := cm.Decrypt(encrypted); decrypted != msg {
			t.Errorf("Expected %q, got %q", msg, decrypted)
		}
	}
}

// TestCryptoManagerWrongKey tests that a different passkey cannot decrypt
func TestCryptoManagerWrongKey(t *testing.T) {
	alice, _ := NewCryptoManager("password123")
	mallory, _ := NewCryptoManager("password124")

	encrypted, err := alice.Encrypt("meet at noon")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if decrypted := mallory.Decrypt(encrypted); decrypted == "meet at noon" {
		t.Error("Wrong key must not recover the plaintext")
	}
}

// TestCryptoManagerDecryptFailures tests the empty-string failure sentinel
func TestCryptoManagerDecryptFailures(t *testing.T) {
	cm, _ := NewCryptoManager("password123")

	// A block whose plaintext ends in a zero byte can never carry valid padding
	badPadding := make([]byte, 16)
	cm.block.Encrypt(badPadding, bytes.Repeat([]byte{0}, 16))

	inputs := map[string]string{
		"NotBase64":   "%%% not base64 %%%",
		"Empty":       "",
		"RaggedBlock": base64.StdEncoding.EncodeToString([]byte("short")),
		"BadPadding":  base64.StdEncoding.EncodeToString(badPadding),
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			if got := cm.Decrypt(input); got != "" {
				t.Errorf("Expected empty result, got %q", got)
			}
		})
	}
}

// TestNormalizeKey tests space padding and truncation of the passkey
func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		passkey  string
		expected string
	}{
		{"password", "password        "},
		{"exactly16bytes!!", "exactly16bytes!!"},
		{"this passkey is far too long", "this passkey is "},
		{"", "                "},
		{"äöü", "äöü          "},
		{"äöüßäöüß", "äöüßäöüß"},
		{"äöüßäöüßx", "äöüßäöüß"},
	}

	for _, tt := range tests {
		key := NormalizeKey(tt.passkey)
		if len(key) != KeyLength {
			t.Errorf("Expected key length %d, got %d", KeyLength, len(key))
		}
		if string(key) != tt.expected {
			t.Errorf("NormalizeKey(%q): expected %q, got %q", tt.passkey, tt.expected, string(key))
		}
	}
}

// TestNormalizedKeysInteroperate tests that passkeys equal after
// normalization produce the same cipher
func TestNormalizedKeysInteroperate(t *testing.T) {
	short, _ := NewCryptoManager("password")
	padded, _ := NewCryptoManager("password        ")
	long1, _ := NewCryptoManager("0123456789abcdefXYZ")
	long2, _ := NewCryptoManager("0123456789abcdef-other-suffix")

	encrypted, _ := short.Encrypt("hi")
	if got := padded.Decrypt(encrypted); got != "hi" {
		t.Errorf("Expected space padded key to interoperate, got %q", got)
	}

	encrypted, _ = long1.Encrypt("hi")
	if got := long2.Decrypt(encrypted); got != "hi" {
		t.Errorf("Expected keys sharing 16 leading bytes to interoperate, got %q", got)
	}
}

// TestCryptoManagerDeterministic documents that the legacy mode leaks
// equality of plaintexts
func TestCryptoManagerDeterministic(t *testing.T) {
	cm, _ := NewCryptoManager("password123")

	first, _ := cm.Encrypt("same text")
	second, _ := cm.Encrypt("same text")
	if first != second {
		t.Error("Expected identical ciphertexts in legacy mode")
	}
}

// TestSealedCipherRoundTrip tests the authenticated mode
func TestSealedCipherRoundTrip(t *testing.T) {
	sc, err := NewSealedCipher("password123")
	if err != nil {
		t.Fatalf("Failed to create sealed cipher: %v", err)
	}

	first, err := sc.Encrypt("same text")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, _ := sc.Encrypt("same text")
	if first == second {
		t.Error("Expected random nonces to produce distinct ciphertexts")
	}

	if got := sc.Decrypt(first); got != "same text" {
		t.Errorf("Expected %q, got %q", "same text", got)
	}

	other, _ := NewSealedCipher("password124")
	if got := other.Decrypt(first); got != "" {
		t.Errorf("Expected wrong key to fail, got %q", got)
	}
}

// TestSealedCipherTamper tests that any modified byte is rejected
func TestSealedCipherTamper(t *testing.T) {
	sc, _ := NewSealedCipher("password123")

	encrypted, _ := sc.Encrypt("transfer 10 coins")
	raw, _ := base64.StdEncoding.DecodeString(encrypted)

	for _, i := range []int{0, len(raw) / 2, len(raw) - 1} {
		tampered := append([]byte{}, raw...)
		tampered[i] ^= 0x01
		if got := sc.Decrypt(base64.StdEncoding.EncodeToString(tampered)); got != "" {
			t.Errorf("Expected tampering at byte %d to be detected, got %q", i, got)
		}
	}

	if got := sc.Decrypt(base64.StdEncoding.EncodeToString(raw[:10])); got != "" {
		t.Errorf("Expected truncated frame to fail, got %q", got)
	}
}

// TestNewCipher tests mode selection
func TestNewCipher(t *testing.T) {
	for _, mode := range []CipherMode{ModeLegacy, ModeSealed} {
		c, err := NewCipher(mode, "password123")
		if err != nil {
			t.Fatalf("NewCipher(%s) failed: %v", mode, err)
		}
		if c.Mode() != mode {
			t.Errorf("Expected mode %s, got %s", mode, c.Mode())
		}
	}

	if _, err := NewCipher("rot13", "password123"); err == nil {
		t.Error("Expected error for unknown mode")
	}

	legacy, _ := NewCipher(ModeLegacy, "password123")
	sealed, _ := NewCipher(ModeSealed, "password123")
	encrypted, _ := legacy.Encrypt("hello")
	if got := sealed.Decrypt(encrypted); got != "" {
		t.Errorf("Expected mode mismatch to fail, got %q", got)
	}
}
