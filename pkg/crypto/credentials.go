// Package crypto encrypts integration credential bags and access tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when the encryption key is empty.
	ErrInvalidKey = errors.New("invalid encryption key: must not be empty")
	// ErrDecryptionFailed is returned when ciphertext is corrupt or was sealed with another key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or wrong key")
)

// Encryptor is the black-box encrypt/decrypt collaborator used by the credential broker.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// CredentialEncryptor seals secrets with AES-256-GCM.
type CredentialEncryptor struct {
	gcm cipher.AEAD
}

// NewCredentialEncryptor builds an encryptor from CREDENTIALS_KEY.
// A base64 value decoding to exactly 32 bytes is used as the raw key;
// anything else is treated as a passphrase and stretched with SHA-256.
func NewCredentialEncryptor(keyInput string) (*CredentialEncryptor, error) {
	if keyInput == "" {
		return nil, ErrInvalidKey
	}

	key := deriveKey(keyInput)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &CredentialEncryptor{gcm: gcm}, nil
}

func deriveKey(keyInput string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(keyInput); err == nil && len(decoded) == 32 {
		return decoded
	}
	sum := sha256.Sum256([]byte(keyInput))
	return sum[:]
}

// Encrypt returns base64(nonce || ciphertext || tag). Empty input stays empty.
func (e *CredentialEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (e *CredentialEncryptor) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode failed", ErrDecryptionFailed)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	plaintext, err := e.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// EncryptBag JSON-encodes a credential bag and encrypts it.
// A nil or empty bag encrypts to the empty string.
func EncryptBag(enc Encryptor, bag map[string]string) (string, error) {
	if len(bag) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(bag)
	if err != nil {
		return "", fmt.Errorf("failed to encode credentials: %w", err)
	}
	return enc.Encrypt(string(raw))
}

// DecryptBag decrypts ciphertext produced by EncryptBag.
func DecryptBag(enc Encryptor, ciphertext string) (map[string]string, error) {
	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	if plaintext == "" {
		return nil, nil
	}

	var bag map[string]string
	if err := json.Unmarshal([]byte(plaintext), &bag); err != nil {
		return nil, fmt.Errorf("%w: credentials are not a JSON object", ErrDecryptionFailed)
	}
	return bag, nil
}

// HashToken returns the hex SHA-256 digest used to look up access tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ Encryptor = (*CredentialEncryptor)(nil)
