// Package security encrypts and decrypts the resource parameters the
// executor caches in memory across a resource's lifetime (its
// stop-parameter cache), and masks private parameters (stonith-ng's
// "private" parameter class) for logs.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// MaskPrivateParams returns a copy of params with every name in private
// replaced by a fixed placeholder, for safe inclusion in logs or transition
// graph dumps. Names not in private pass through unchanged.
func MaskPrivateParams(params map[string]string, private map[string]bool) map[string]string {
	masked := make(map[string]string, len(params))
	for name, value := range params {
		if private[name] {
			masked[name] = "******"
			continue
		}
		masked[name] = value
	}
	return masked
}

// DeriveKeyFromClusterID derives an encryption key from the cluster ID.
// Used during cluster initialization to create a consistent key across nodes.
func DeriveKeyFromClusterID(clusterID string) []byte {
	hash := sha256.Sum256([]byte(clusterID))
	return hash[:]
}

// clusterEncryptionKey is the global encryption key for the cluster,
// derived from the cluster ID during initialization.
var clusterEncryptionKey []byte

// SetClusterEncryptionKey sets the global cluster encryption key.
// This should be called once during cluster initialization.
func SetClusterEncryptionKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	clusterEncryptionKey = key
	return nil
}

// Encrypt encrypts data using the cluster encryption key.
// Used for encrypting the executor's cached stop-parameters.
func Encrypt(plaintext []byte) ([]byte, error) {
	if len(clusterEncryptionKey) == 0 {
		return nil, fmt.Errorf("cluster encryption key not set")
	}

	block, err := aes.NewCipher(clusterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return ciphertext, nil
}

// Decrypt decrypts data using the cluster encryption key.
func Decrypt(ciphertext []byte) ([]byte, error) {
	if len(clusterEncryptionKey) == 0 {
		return nil, fmt.Errorf("cluster encryption key not set")
	}

	block, err := aes.NewCipher(clusterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
