// Package crypto encrypts per-user platform tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

const keyInfo = "todo-aggregator-platform-tokens"

// EncryptionService seals tokens with AES-256-GCM under a key derived per user.
type EncryptionService struct {
	masterKey []byte
}

// NewEncryptionService takes a 32-byte master key, hex encoded (64 characters).
func NewEncryptionService(masterKeyHex string) (*EncryptionService, error) {
	if masterKeyHex == "" {
		return nil, errors.New("encryption master key is required")
	}
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format (must be hex): %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes (64 hex characters), got %d bytes", len(masterKey))
	}
	return &EncryptionService{masterKey: masterKey}, nil
}

// aeadFor derives the user's key with HKDF-SHA256 and wraps it in GCM.
func (e *EncryptionService) aeadFor(userKey string) (cipher.AEAD, error) {
	if userKey == "" {
		return nil, errors.New("user key is required for key derivation")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, e.masterKey, []byte(userKey), []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive user key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptString returns base64(nonce || ciphertext). Empty input stays empty.
func (e *EncryptionService) EncryptString(userKey, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	gcm, err := e.aeadFor(userKey)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

// DecryptString reverses EncryptString.
func (e *EncryptionService) DecryptString(userKey, sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	gcm, err := e.aeadFor(userKey)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// SealUser returns a copy of u with every platform token encrypted.
func (e *EncryptionService) SealUser(u models.User) (models.User, error) {
	return e.transform(u, e.EncryptString)
}

// OpenUser returns a copy of u with every platform token decrypted.
func (e *EncryptionService) OpenUser(u models.User) (models.User, error) {
	return e.transform(u, e.DecryptString)
}

func (e *EncryptionService) transform(u models.User, fn func(string, string) (string, error)) (models.User, error) {
	for _, field := range []*string{&u.SlackToken, &u.GmailRefreshToken, &u.PersonalToken} {
		out, err := fn(u.Key, *field)
		if err != nil {
			return u, fmt.Errorf("user %s: %w", u.Key, err)
		}
		*field = out
	}
	return u, nil
}

// GenerateMasterKey generates a new random 32-byte master key (for setup)
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// GeneratePersonalToken returns a random token users present to trigger
// their own runs.
func GeneratePersonalToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return "tat_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
