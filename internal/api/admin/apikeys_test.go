package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/db/repositories"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// Column / row definitions
// ---------------------------------------------------------------------------

var akCols = []string{
	"id", "account_id", "name", "key_hash", "key_prefix", "scopes", "expires_at", "last_used_at", "created_at",
}

var testKeyScopes = []byte(`["exchange:trade"]`)

func sampleAKRow(accountID string) *sqlmock.Rows {
	return sqlmock.NewRows(akCols).
		AddRow("key-1", accountID, "Trading desk", "hashedkey", "cct_abc12345",
			testKeyScopes, nil, nil, time.Now())
}

func emptyAKRows() *sqlmock.Rows {
	return sqlmock.NewRows(akCols)
}

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newAPIKeyRouter(t *testing.T, p *auth.Principal) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewAPIKeyHandlers(repositories.NewAPIKeyRepository(db), "")

	r := gin.New()
	if p != nil {
		r.Use(func(c *gin.Context) {
			middleware.SetPrincipal(c, p)
			c.Next()
		})
	}
	r.GET("/api-keys", h.ListAPIKeysHandler())
	r.POST("/api-keys", h.CreateAPIKeyHandler())
	r.DELETE("/api-keys/:id", h.RevokeAPIKeyHandler())
	return mock, r
}

func trader() *auth.Principal {
	return &auth.Principal{Account: "buyer-1", Scopes: []string{string(auth.ScopeExchangeTrade)}}
}

func administrator() *auth.Principal {
	return &auth.Principal{Account: "registry-admin", Scopes: auth.AdminScopes()}
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// ListAPIKeysHandler
// ---------------------------------------------------------------------------

func TestListAPIKeys_NoAuth(t *testing.T) {
	_, r := newAPIKeyRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api-keys", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListAPIKeys_OwnKeys(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE account_id").
		WithArgs("buyer-1").
		WillReturnRows(sampleAKRow("buyer-1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api-keys", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "hashedkey") {
		t.Error("response leaks the key hash")
	}
	var body struct {
		APIKeys []apiKeyResponse `json:"api_keys"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.APIKeys) != 1 || body.APIKeys[0].Scopes[0] != "exchange:trade" {
		t.Errorf("api_keys = %+v", body.APIKeys)
	}
}

func TestListAPIKeys_OtherAccount(t *testing.T) {
	_, r := newAPIKeyRouter(t, trader())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api-keys?account_id=someone", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestListAPIKeys_AdminOtherAccount(t *testing.T) {
	mock, r := newAPIKeyRouter(t, administrator())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE account_id").
		WithArgs("someone").
		WillReturnRows(emptyAKRows())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api-keys?account_id=someone", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestListAPIKeys_DBError(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectQuery("SELECT.*FROM api_keys").WillReturnError(errors.New("db down"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api-keys", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CreateAPIKeyHandler
// ---------------------------------------------------------------------------

func TestCreateAPIKey_MissingFields(t *testing.T) {
	_, r := newAPIKeyRouter(t, trader())
	w := postJSON(r, "/api-keys", map[string]string{"name": "no scopes"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateAPIKey_NoAuth(t *testing.T) {
	_, r := newAPIKeyRouter(t, nil)
	w := postJSON(r, "/api-keys", CreateAPIKeyRequest{Name: "k", Scopes: []string{"exchange:trade"}})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCreateAPIKey_Success(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectExec("INSERT INTO api_keys").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(r, "/api-keys", CreateAPIKeyRequest{Name: "Trading desk", Scopes: []string{"exchange:trade"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp CreateAPIKeyResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.Key, auth.DefaultAPIKeyPrefix+"_") {
		t.Errorf("key = %q, want %s_ prefix", resp.Key, auth.DefaultAPIKeyPrefix)
	}
	if resp.AccountID != "buyer-1" || resp.ID == "" {
		t.Errorf("response = %+v", resp)
	}
	if !strings.HasPrefix(resp.Key, resp.KeyPrefix) {
		t.Errorf("key_prefix %q is not a prefix of the key", resp.KeyPrefix)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateAPIKey_Rejections(t *testing.T) {
	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	bad := "tomorrow"
	tests := []struct {
		name   string
		req    CreateAPIKeyRequest
		status int
	}{
		{"unknown scope", CreateAPIKeyRequest{Name: "k", Scopes: []string{"everything"}}, http.StatusBadRequest},
		{"scope above caller", CreateAPIKeyRequest{Name: "k", Scopes: []string{"registry:admin"}}, http.StatusForbidden},
		{"other account", CreateAPIKeyRequest{Name: "k", AccountID: "someone", Scopes: []string{"exchange:trade"}}, http.StatusForbidden},
		{"bad expiry", CreateAPIKeyRequest{Name: "k", Scopes: []string{"exchange:trade"}, ExpiresAt: &bad}, http.StatusBadRequest},
		{"past expiry", CreateAPIKeyRequest{Name: "k", Scopes: []string{"exchange:trade"}, ExpiresAt: &past}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, r := newAPIKeyRouter(t, trader())
			w := postJSON(r, "/api-keys", tt.req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unexpected db access: %v", err)
			}
		})
	}
}

func TestCreateAPIKey_AdminForOtherAccount(t *testing.T) {
	mock, r := newAPIKeyRouter(t, administrator())
	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "org-1", "Issuer key", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(r, "/api-keys", CreateAPIKeyRequest{Name: "Issuer key", AccountID: "org-1", Scopes: []string{"projects:write"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
}

func TestCreateAPIKey_DBError(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectExec("INSERT INTO api_keys").WillReturnError(errors.New("db down"))

	w := postJSON(r, "/api-keys", CreateAPIKeyRequest{Name: "k", Scopes: []string{"exchange:trade"}})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RevokeAPIKeyHandler
// ---------------------------------------------------------------------------

func TestRevokeAPIKey_NotFound(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").WillReturnRows(emptyAKRows())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/api-keys/key-1", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRevokeAPIKey_Success(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").WillReturnRows(sampleAKRow("buyer-1"))
	mock.ExpectExec("DELETE FROM api_keys").WithArgs("key-1").WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/api-keys/key-1", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRevokeAPIKey_OtherAccount_Forbidden(t *testing.T) {
	mock, r := newAPIKeyRouter(t, trader())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").WillReturnRows(sampleAKRow("someone-else"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/api-keys/key-1", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestRevokeAPIKey_AdminOtherAccount(t *testing.T) {
	mock, r := newAPIKeyRouter(t, administrator())
	mock.ExpectQuery("SELECT.*FROM api_keys WHERE id").WillReturnRows(sampleAKRow("someone-else"))
	mock.ExpectExec("DELETE FROM api_keys").WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/api-keys/key-1", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
