package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// Secrets file parameters.
const (
	saltSize = 16
	scryptN  = 32768 // 2^15
	scryptR  = 8
	scryptP  = 1
	keySize  = 32 // AES-256
)

// Well-known secret names.
const (
	SecretGitHubToken    = "GITHUB_TOKEN"
	SecretWebhookSecret  = "WEBHOOK_SECRET"
	SecretOpenAIKey      = "OPENAI_API_KEY"
	SecretAnthropicKey   = "ANTHROPIC_API_KEY"
	DefaultWebhookSecret = "supersecret"
)

//nolint:gochecknoglobals // Intentional in-memory store for decrypted secrets.
var (
	decryptedSecrets map[string]string
	secretsMu        sync.RWMutex
)

// GetSecret returns a secret value by name using standard precedence:
// decrypted secrets file first, then environment variables.
func GetSecret(name string) (string, error) {
	secretsMu.RLock()
	if decryptedSecrets != nil {
		if value, ok := decryptedSecrets[name]; ok && value != "" {
			secretsMu.RUnlock()
			return value, nil
		}
	}
	secretsMu.RUnlock()

	if value := os.Getenv(name); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret %s not found in secrets file or environment", name)
}

// GetSecretOrDefault returns the secret value or fallback when unset.
func GetSecretOrDefault(name, fallback string) string {
	if v, err := GetSecret(name); err == nil {
		return v
	}
	return fallback
}

// SetSecret sets a secret value in memory.
func SetSecret(name, value string) {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	if decryptedSecrets == nil {
		decryptedSecrets = make(map[string]string)
	}
	decryptedSecrets[name] = value
}

// ClearSecrets drops all decrypted secrets from memory.
func ClearSecrets() {
	secretsMu.Lock()
	defer secretsMu.Unlock()
	decryptedSecrets = nil
}

// deriveKey stretches a password into an AES-256 key using scrypt.
func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// EncryptSecrets serializes and encrypts a secrets map with AES-256-GCM.
// Output layout: salt || nonce || ciphertext.
func EncryptSecrets(secrets map[string]string, password string) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal secrets: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// DecryptSecrets reverses EncryptSecrets.
func DecryptSecrets(data []byte, password string) (map[string]string, error) {
	if len(data) < saltSize {
		return nil, fmt.Errorf("secrets blob too short")
	}

	salt := data[:saltSize]
	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	rest := data[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("secrets blob too short")
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets (wrong password?): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets: %w", err)
	}
	return secrets, nil
}

// LoadSecretsFile decrypts the secrets file at path into memory.
// A missing file is not an error; env vars remain the fallback.
func LoadSecretsFile(path, password string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	secrets, err := DecryptSecrets(data, password)
	if err != nil {
		return err
	}

	secretsMu.Lock()
	defer secretsMu.Unlock()
	decryptedSecrets = secrets
	return nil
}

// SaveSecretsFile encrypts the in-memory secrets and writes them to path.
func SaveSecretsFile(path, password string) error {
	secretsMu.RLock()
	snapshot := make(map[string]string, len(decryptedSecrets))
	for k, v := range decryptedSecrets {
		snapshot[k] = v
	}
	secretsMu.RUnlock()

	data, err := EncryptSecrets(snapshot, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file %s: %w", path, err)
	}
	return nil
}
