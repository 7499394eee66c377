// Package auth provides the authentication primitives of the CCT registry API.
// Two credential types are accepted: JWTs (stateless, HS256) and API keys (long-lived
// "cct_" tokens stored as bcrypt hashes). Both resolve to a Principal: an account
// identity plus the scopes it may exercise. Request-time checks live in
// internal/middleware/auth.go.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultAPIKeyPrefix starts every key issued by this registry
	DefaultAPIKeyPrefix = "cct"

	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of leading characters stored in plaintext for
	// lookup and display
	DisplayPrefixLength = 12

	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// Method names how a request was authenticated
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Principal is an authenticated caller
type Principal struct {
	Account string
	Scopes  []string
	Method  string
	// APIKeyID is set when Method is MethodAPIKey
	APIKeyID string
}

// Can reports whether the principal holds the required scope
func (p *Principal) Can(required Scope) bool {
	return p != nil && HasScope(p.Scopes, required)
}

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns the full key (shown once), its bcrypt hash (stored) and the display prefix.
func GenerateAPIKey(prefix string) (key string, hash string, displayPrefix string, err error) {
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}

	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), BcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), KeyPrefix(fullKey), nil
}

// KeyPrefix returns the lookup prefix of a presented key
func KeyPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// LooksLikeAPIKey reports whether token has the shape of a key issued with prefix
func LooksLikeAPIKey(token, prefix string) bool {
	if prefix == "" {
		prefix = DefaultAPIKeyPrefix
	}
	return strings.HasPrefix(token, prefix+"_")
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// ExtractBearerToken extracts the credential from an Authorization header.
// Expected format: "Bearer <token>"
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
