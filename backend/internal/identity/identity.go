// Package identity derives stable user identifiers from email addresses.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	apperrors "circl/backend/pkg/errors"
)

// IDLength is the length of every identifier returned by Identify
const IDLength = sha256.Size * 2

// Normalize lower-cases and trims an email address
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Identify maps an email to its opaque user id: the lowercase hex SHA-256 of the
// normalized address. The same email yields the same id in every process.
func Identify(email string) (string, error) {
	normalized := Normalize(email)
	if normalized == "" {
		return "", apperrors.NewValidation("email", "must not be empty")
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// SameUser reports whether two emails resolve to the same identity
func SameUser(a, b string) bool {
	return Normalize(a) != "" && Normalize(a) == Normalize(b)
}
