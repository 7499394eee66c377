package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey("cct")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	t.Run("returns three non-empty values", func(t *testing.T) {
		if key == "" || hash == "" || prefix == "" {
			t.Errorf("GenerateAPIKey() = (%q, %q, %q), want all non-empty", key, hash, prefix)
		}
	})

	t.Run("key starts with prefix_", func(t *testing.T) {
		if !strings.HasPrefix(key, "cct_") {
			t.Errorf("key = %q, want prefix %q", key, "cct_")
		}
	})

	t.Run("display prefix matches key start", func(t *testing.T) {
		if !strings.HasPrefix(key, prefix) {
			t.Errorf("key %q does not start with displayPrefix %q", key, prefix)
		}
		if len(prefix) != DisplayPrefixLength {
			t.Errorf("displayPrefix len = %d, want %d", len(prefix), DisplayPrefixLength)
		}
		if KeyPrefix(key) != prefix {
			t.Errorf("KeyPrefix(key) = %q, want %q", KeyPrefix(key), prefix)
		}
	})

	t.Run("hash validates the key", func(t *testing.T) {
		if !ValidateAPIKey(key, hash) {
			t.Error("ValidateAPIKey() returned false for correct key")
		}
	})

	t.Run("empty prefix falls back to cct", func(t *testing.T) {
		k, _, _, err := GenerateAPIKey("")
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(k, "cct_") {
			t.Errorf("key = %q, want prefix cct_", k)
		}
		if k == key {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	key, hash, _, err := GenerateAPIKey("cct")
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	tests := []struct {
		name     string
		provided string
		hash     string
		want     bool
	}{
		{"correct key", key, hash, true},
		{"wrong key", "cct_wrongkey", hash, false},
		{"empty key", "", hash, false},
		{"empty hash", key, "", false},
		{"truncated key", key[:len(key)-1], hash, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAPIKey(tt.provided, tt.hash); got != tt.want {
				t.Errorf("ValidateAPIKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyPrefix_ShortKey(t *testing.T) {
	if got := KeyPrefix("cct_ab"); got != "cct_ab" {
		t.Errorf("KeyPrefix(short) = %q, want the whole key", got)
	}
}

func TestLooksLikeAPIKey(t *testing.T) {
	tests := []struct {
		token  string
		prefix string
		want   bool
	}{
		{"cct_abc", "cct", true},
		{"cct_abc", "", true},
		{"eyJhbGciOiJIUzI1NiJ9.e30.sig", "cct", false},
		{"cctabc", "cct", false},
		{"org_abc", "org", true},
	}
	for _, tt := range tests {
		if got := LooksLikeAPIKey(tt.token, tt.prefix); got != tt.want {
			t.Errorf("LooksLikeAPIKey(%q, %q) = %v, want %v", tt.token, tt.prefix, got, tt.want)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer token", "Bearer cct_abc123xyz", "cct_abc123xyz", false},
		{"bearer with extra spaces", "Bearer  cct_abc123 ", "cct_abc123", false},
		{"empty header", "", "", true},
		{"missing Bearer prefix", "cct_abc123", "", true},
		{"Basic auth scheme", "Basic dXNlcjpwYXNz", "", true},
		{"Bearer with no key", "Bearer ", "", true},
		{"Bearer with only spaces", "Bearer    ", "", true},
		{"lowercase bearer rejected", "bearer cct_abc123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestPrincipal_Can(t *testing.T) {
	var nilPrincipal *Principal
	if nilPrincipal.Can(ScopeExchangeTrade) {
		t.Error("nil principal Can() = true, want false")
	}

	trader := &Principal{Account: "buyer-1", Scopes: []string{string(ScopeExchangeTrade)}}
	if !trader.Can(ScopeExchangeTrade) {
		t.Error("trader Can(exchange:trade) = false, want true")
	}
	if trader.Can(ScopeAdmin) {
		t.Error("trader Can(registry:admin) = true, want false")
	}

	admin := &Principal{Account: "admin", Scopes: []string{string(ScopeAdmin)}}
	if !admin.Can(ScopeAuditRead) {
		t.Error("admin Can(audit:read) = false, want true")
	}
}
