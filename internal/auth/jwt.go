// Package auth - jwt.go handles JWT token creation, signing, and verification using a
// shared HS256 secret. The token subject is the account identity; scopes ride in a
// custom claim so request-time authorization never needs a database lookup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every token this package signs
const Issuer = "cct-registry"

var (
	// jwtSecret holds the validated JWT secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims represents the JWT claims structure
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Account returns the account identity the token was issued to
func (c *Claims) Account() string {
	return c.Subject
}

// IsDevMode reports whether the process runs in development mode
func IsDevMode() bool {
	devMode := os.Getenv("CCT_DEV_MODE")
	return devMode == "true" || devMode == "1" || os.Getenv("GIN_MODE") == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that CCT_JWT_SECRET is configured. Outside dev mode a
// missing secret is an error; in dev mode a random secret is generated and tokens do
// not survive a restart. Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("CCT_JWT_SECRET")

		if secret == "" {
			if IsDevMode() {
				jwtSecret = generateRandomSecret()
				slog.Warn("CCT_JWT_SECRET not set, using an auto-generated secret for development; tokens will not survive a restart")
			} else {
				jwtSecretErr = errors.New("CCT_JWT_SECRET environment variable is required outside dev mode; " +
					"generate one with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			slog.Warn("CCT_JWT_SECRET is shorter than the recommended 32 characters")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if the secret cannot be validated.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a token for account carrying scopes. A zero expiresIn means one hour.
func GenerateJWT(account string, scopes []string, expiresIn time.Duration) (string, error) {
	if account == "" {
		return "", errors.New("account is required")
	}
	if expiresIn == 0 {
		expiresIn = 1 * time.Hour
	}

	now := time.Now()
	claims := &Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    Issuer,
			Subject:   account,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT parses and validates a token, returning its claims
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}
