package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewResetToken returns a password-reset token for the email and the hash
// that gets stored. The plain token never touches the database.
func NewResetToken() (token, hash string) {
	token = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	return token, HashResetToken(token)
}

// HashResetToken is the lookup key for a mailed token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}
