package security

import (
	"crypto/subtle"
	"strings"
)

// ExtractBearerToken parses "Bearer <token>" from the Authorization
// header. The scheme is case-insensitive per RFC 7235; surrounding
// whitespace on the token is trimmed.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return strings.TrimSpace(authHeader[len(prefix):])
	}
	return ""
}

// TokenMatch uses constant-time comparison to prevent timing attacks.
func TokenMatch(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
