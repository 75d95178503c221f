package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// KeyLength is the length the passkey is normalized to before it is used as
// an AES-128 key
const KeyLength = 16

// CryptoManager is the legacy frame cipher: AES-128 in ECB mode with PKCS#5
// padding, base64 transport encoding. Identical plaintexts under the same
// passkey produce identical ciphertexts and nothing detects tampering.
type CryptoManager struct {
	block cipher.Block
}

// NormalizeKey space-pads or truncates the UTF-8 bytes of the passkey to
// exactly KeyLength bytes. Counting bytes rather than characters keeps the
// key at AES-128 for every passkey; peers that count characters only agree
// on ASCII passkeys.
func NormalizeKey(passkey string) []byte {
	key := bytes.Repeat([]byte{' '}, KeyLength)
	copy(key, passkey)
	return key
}

// NewCryptoManager creates the legacy cipher keyed by the passkey
func NewCryptoManager(passkey string) (*CryptoManager, error) {
	block, err := aes.NewCipher(NormalizeKey(passkey))
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return &CryptoManager{block: block}, nil
}

// Mode implements Cipher
func (cm *CryptoManager) Mode() CipherMode {
	return ModeLegacy
}

// Encrypt encrypts the UTF-8 bytes of text and returns them base64 encoded
func (cm *CryptoManager) Encrypt(text string) (string, error) {
	plaintext := pkcs7Pad([]byte(text), aes.BlockSize)
	ciphertext := make([]byte, len(plaintext))

	// ECB: every block is enciphered independently
	for i := 0; i < len(plaintext); i += aes.BlockSize {
		cm.block.Encrypt(ciphertext[i:i+aes.BlockSize], plaintext[i:i+aes.BlockSize])
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Invalid base64, a ragged length, bad padding or
// a wrong key all yield "".
func (cm *CryptoManager) Decrypt(transport string) string {
	ciphertext, err := base64.StdEncoding.DecodeString(transport)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return ""
	}

	plaintext := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += aes.BlockSize {
		cm.block.Decrypt(plaintext[i:i+aes.BlockSize], ciphertext[i:i+aes.BlockSize])
	}

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok {
		return ""
	}
	return string(unpadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
