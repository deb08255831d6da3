package deletion

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewRecoveryCode generates a fresh recovery code and its hash. The
// plaintext is returned once for display to the user; only the hash is
// persisted.
func NewRecoveryCode() (plaintext, hash string, err error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate recovery code: %w", err)
	}

	plaintext = hex.EncodeToString(raw)
	return plaintext, HashRecoveryCode(plaintext), nil
}

// HashRecoveryCode hashes a plaintext recovery code for storage and
// comparison.
func HashRecoveryCode(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
