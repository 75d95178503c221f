package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the work factor for stretching the passkey
	PBKDF2Iterations = 100000

	// The salt is fixed because nothing is negotiated; both peers must
	// arrive at the same key from the passkey alone.
	sealedSalt      = "securechat/sealed/v1"
	sealedFrameInfo = "securechat frame key v1"
)

// SealedCipher authenticates and encrypts every frame with
// XChaCha20-Poly1305 under a fresh random nonce
type SealedCipher struct {
	aead cipher.AEAD
}

// NewSealedCipher derives the frame key from the passkey
func NewSealedCipher(passkey string) (*SealedCipher, error) {
	master := pbkdf2.Key([]byte(passkey), []byte(sealedSalt), PBKDF2Iterations, 32, sha256.New)
	defer zeroBytes(master)

	key := make([]byte, chacha20poly1305.KeySize)
	defer zeroBytes(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealedFrameInfo)), key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305: %w", err)
	}

	return &SealedCipher{aead: aead}, nil
}

// Mode implements Cipher
func (sc *SealedCipher) Mode() CipherMode {
	return ModeSealed
}

// Encrypt returns base64(nonce || ciphertext || tag)
func (sc *SealedCipher) Encrypt(text string) (string, error) {
	nonce := make([]byte, sc.aead.NonceSize(), sc.aead.NonceSize()+len(text)+sc.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := sc.aead.Seal(nonce, nonce, []byte(text), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt verifies and decrypts a frame, returning "" if anything is off
func (sc *SealedCipher) Decrypt(transport string) string {
	data, err := base64.StdEncoding.DecodeString(transport)
	if err != nil || len(data) < sc.aead.NonceSize()+sc.aead.Overhead() {
		return ""
	}

	nonce, ciphertext := data[:sc.aead.NonceSize()], data[sc.aead.NonceSize():]
	plaintext, err := sc.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ""
	}
	return string(plaintext)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
