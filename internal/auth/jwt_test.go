package auth

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// resetJWTSecret resets the package-level sync.Once so tests can set a fresh secret.
// This is only safe to call from test code.
func resetJWTSecret() {
	jwtSecret = ""
	jwtSecretOnce = sync.Once{}
	jwtSecretErr = nil
}

func TestMain(m *testing.M) {
	os.Setenv("CCT_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")
	os.Exit(m.Run())
}

func TestValidateJWTSecret(t *testing.T) {
	t.Run("valid secret from env", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("CCT_JWT_SECRET", "exactly-32-char-secret-for-test!!")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error: %v", err)
		}
	})

	t.Run("production mode requires secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("CCT_JWT_SECRET", "")
		t.Setenv("CCT_DEV_MODE", "")
		t.Setenv("GIN_MODE", "release")
		if err := ValidateJWTSecret(); err == nil {
			t.Error("ValidateJWTSecret() expected error without secret outside dev mode, got nil")
		}
	})

	t.Run("dev mode generates random secret", func(t *testing.T) {
		resetJWTSecret()
		t.Setenv("CCT_JWT_SECRET", "")
		t.Setenv("CCT_DEV_MODE", "true")
		if err := ValidateJWTSecret(); err != nil {
			t.Errorf("ValidateJWTSecret() unexpected error in dev mode: %v", err)
		}
		if GetJWTSecret() == "" {
			t.Error("GetJWTSecret() returned empty string after dev mode init")
		}
	})

	resetJWTSecret()
}

func TestGenerateAndValidateJWT(t *testing.T) {
	resetJWTSecret()
	t.Setenv("CCT_JWT_SECRET", "test-jwt-secret-that-is-32-chars-!")

	t.Run("round trip", func(t *testing.T) {
		token, err := GenerateJWT("org-1", []string{"projects:write"}, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		if claims.Account() != "org-1" {
			t.Errorf("claims.Account() = %q, want org-1", claims.Account())
		}
		if len(claims.Scopes) != 1 || claims.Scopes[0] != "projects:write" {
			t.Errorf("claims.Scopes = %v, want [projects:write]", claims.Scopes)
		}
		if claims.Issuer != Issuer {
			t.Errorf("claims.Issuer = %q, want %q", claims.Issuer, Issuer)
		}
	})

	t.Run("default expiry when zero duration", func(t *testing.T) {
		token, err := GenerateJWT("buyer-1", nil, 0)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		claims, err := ValidateJWT(token)
		if err != nil {
			t.Fatalf("ValidateJWT() error: %v", err)
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 50*time.Minute || remaining > 70*time.Minute {
			t.Errorf("default expiry remaining = %v, want ~1h", remaining)
		}
	})

	t.Run("empty account is refused", func(t *testing.T) {
		if _, err := GenerateJWT("", nil, time.Hour); err == nil {
			t.Error("GenerateJWT(\"\") expected error, got nil")
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		token, err := GenerateJWT("buyer-1", nil, -time.Second)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for expired token, got nil")
		}
	})

	t.Run("garbage and empty tokens", func(t *testing.T) {
		for _, tok := range []string{"not.a.valid.token", ""} {
			if _, err := ValidateJWT(tok); err == nil {
				t.Errorf("ValidateJWT(%q) expected error, got nil", tok)
			}
		}
	})

	t.Run("foreign issuer is rejected", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "buyer-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
		if err != nil {
			t.Fatalf("SignedString() error: %v", err)
		}
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for foreign issuer, got nil")
		}
	})

	t.Run("token without subject is rejected", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(GetJWTSecret()))
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token without subject, got nil")
		}
	})

	t.Run("token signed with different secret is rejected", func(t *testing.T) {
		token, err := GenerateJWT("buyer-1", nil, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT() error: %v", err)
		}

		resetJWTSecret()
		t.Setenv("CCT_JWT_SECRET", "completely-different-secret-32ch!")
		if _, err := ValidateJWT(token); err == nil {
			t.Error("ValidateJWT() expected error for token signed with a different secret, got nil")
		}
		resetJWTSecret()
	})
}
