package security

import (
	"fmt"
)

// CipherMode selects the frame cipher. Both peers must use the same mode.
type CipherMode string

const (
	// ModeLegacy is AES-128-ECB keyed directly by the padded passkey. It is
	// wire compatible with existing peers but deterministic and unauthenticated.
	ModeLegacy CipherMode = "legacy"

	// ModeSealed is XChaCha20-Poly1305 with a random nonce per frame and a
	// PBKDF2/HKDF derived key. Not compatible with legacy peers.
	ModeSealed CipherMode = "sealed"
)

// Cipher encrypts text frames into a line safe transport string
type Cipher interface {
	// Encrypt returns the base64 transport form of text
	Encrypt(text string) (string, error)

	// Decrypt returns the plaintext, or "" on any failure. Callers treat an
	// empty result as the failure sentinel.
	Decrypt(transport string) string

	Mode() CipherMode
}

// NewCipher builds the cipher for the given mode from the shared passkey
func NewCipher(mode CipherMode, passkey string) (Cipher, error) {
	switch mode {
	case ModeLegacy, "":
		return NewCryptoManager(passkey)
	case ModeSealed:
		return NewSealedCipher(passkey)
	default:
		return nil, fmt.Errorf("unsupported cipher mode: %q", mode)
	}
}
