package auth

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"

	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// generateSecureToken returns length random bytes, base64url encoded without padding.
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

func newSessionID() string {
	return uuid.NewString()
}

// ValidateSessionID checks a caller-supplied session identifier.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return ErrValidation("session_id", "is required")
	case len(id) > MaxSessionIDLength:
		return ErrValidation("session_id", "is too long")
	case !sessionIDPattern.MatchString(id):
		return ErrValidation("session_id", "contains invalid characters")
	}
	return nil
}
