package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/exchange"
	"github.com/cct-registry/cct-registry/internal/ledger"
	"github.com/cct-registry/cct-registry/internal/ledger/memory"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	os.Setenv("CCT_JWT_SECRET", "test-router-jwt-secret-32-chars!!")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const adminAccount = "registry-admin"

// ---------------------------------------------------------------------------
// minimal storage.Storage mock for readiness tests
// ---------------------------------------------------------------------------

type readinessMockStorage struct{ existsErr error }

func (m *readinessMockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *readinessMockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}
func (m *readinessMockStorage) Delete(_ context.Context, _ string) error { return nil }
func (m *readinessMockStorage) Exists(_ context.Context, _ string) (bool, error) {
	return false, m.existsErr
}

// ---------------------------------------------------------------------------
// Router helpers
// ---------------------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		Registry: config.RegistryConfig{AdminAccount: adminAccount},
		Exchange: config.ExchangeConfig{UnitPrice: 2, OverpaymentPolicy: config.OverpaymentRefund},
		Audit:    config.AuditConfig{Enabled: true},
		Security: config.SecurityConfig{RateLimiting: config.RateLimitingConfig{Enabled: true}},
	}
}

func memoryDeps(cfg *config.Config) (Dependencies, *memory.Store) {
	store := memory.New()
	reg := registry.New(store, store, cfg.Registry.AdminAccount)
	return Dependencies{
		Registry: reg,
		Exchange: exchange.New(reg, store, nil, exchange.PricingFromConfig(cfg.Exchange)),
		Ledger:   ledger.NewService(store),
		Events:   store,
		Archives: store,
	}, store
}

func token(t *testing.T, account string, scopes ...auth.Scope) string {
	t.Helper()
	raw := make([]string, 0, len(scopes))
	for _, s := range scopes {
		raw = append(raw, string(s))
	}
	tok, err := auth.GenerateJWT(account, raw, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func call(r *gin.Engine, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthCheckHandler(t *testing.T) {
	r := gin.New()
	r.GET("/health", healthCheckHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func newPingDB(t *testing.T, pingErr error) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingErr == nil {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(pingErr)
	}
	return db
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name    string
		checks  func(t *testing.T) []ReadinessCheck
		status  int
		failing string
	}{
		{
			name:   "no checks",
			checks: func(*testing.T) []ReadinessCheck { return nil },
			status: http.StatusOK,
		},
		{
			name: "all healthy",
			checks: func(t *testing.T) []ReadinessCheck {
				return []ReadinessCheck{PingCheck(newPingDB(t, nil)), StorageCheck(&readinessMockStorage{})}
			},
			status: http.StatusOK,
		},
		{
			name: "database down",
			checks: func(t *testing.T) []ReadinessCheck {
				return []ReadinessCheck{PingCheck(newPingDB(t, sql.ErrConnDone)), StorageCheck(&readinessMockStorage{})}
			},
			status:  http.StatusServiceUnavailable,
			failing: "database",
		},
		{
			name: "storage down",
			checks: func(t *testing.T) []ReadinessCheck {
				return []ReadinessCheck{StorageCheck(&readinessMockStorage{existsErr: errors.New("denied")})}
			},
			status:  http.StatusServiceUnavailable,
			failing: "storage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ready", readinessHandler(tt.checks(t)))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			var body struct {
				Ready  bool              `json:"ready"`
				Checks map[string]string `json:"checks"`
			}
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body.Ready != (tt.status == http.StatusOK) {
				t.Errorf("ready = %v", body.Ready)
			}
			if tt.failing != "" && body.Checks[tt.failing] != "unhealthy" {
				t.Errorf("checks = %v, want %s unhealthy", body.Checks, tt.failing)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	cfg := testConfig()
	deps, _ := memoryDeps(cfg)
	r := NewRouter(cfg, deps)

	w := call(r, http.MethodGet, "/version", "", nil)
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["version"] != Version || body["api_version"] != "v1" {
		t.Errorf("body = %v", body)
	}
}

// ---------------------------------------------------------------------------
// End to end over the memory ledger
// ---------------------------------------------------------------------------

func TestRouter_ReferenceScenario(t *testing.T) {
	cfg := testConfig()
	deps, store := memoryDeps(cfg)
	if err := deps.Ledger.ApplyGenesis(context.Background(), map[string]int64{"buyer-1": 100}); err != nil {
		t.Fatalf("ApplyGenesis: %v", err)
	}
	r := NewRouter(cfg, deps)

	adminTok := token(t, adminAccount)
	orgTok := token(t, "test-company", auth.ScopeProjectsWrite)
	buyerTok := token(t, "buyer-1", auth.ScopeExchangeTrade)

	w := call(r, http.MethodPost, "/api/v1/organizations", adminTok,
		map[string]string{"id": "test-company", "name": "Test Company"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create org: status = %d: %s", w.Code, w.Body.String())
	}

	w = call(r, http.MethodPost, "/api/v1/organizations/test-company/projects", orgTok,
		map[string]any{"name": "Test Project", "description": "Test Description", "cct_amount": 1000, "cct_listed_initial": 3})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: status = %d: %s", w.Code, w.Body.String())
	}

	w = call(r, http.MethodPost, "/api/v1/organizations/test-company/projects/0/sell", buyerTok,
		map[string]uint64{"quantity": 3, "payment": 6})
	if w.Code != http.StatusOK {
		t.Fatalf("sell: status = %d: %s", w.Code, w.Body.String())
	}

	w = call(r, http.MethodGet, "/api/v1/events", "", nil)
	var page struct {
		Events []map[string]any `json:"events"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Events) != 1 {
		t.Errorf("events = %d, want 1", len(page.Events))
	}

	w = call(r, http.MethodGet, "/api/v1/organizations/test-company", "", nil)
	var org map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &org)
	if org["name"] != "Test Company" {
		t.Errorf("organization name = %v", org["name"])
	}

	p, _ := store.GetProject(context.Background(), "test-company", 0)
	if p.CCTListed != 3 {
		t.Errorf("cct_listed = %d, want 3", p.CCTListed)
	}

	w = call(r, http.MethodGet, "/api/v1/accounts/test-company", orgTok, nil)
	var acct map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &acct)
	if acct["balance"] != float64(6) {
		t.Errorf("payout balance = %v, want 6", acct["balance"])
	}
}

func TestRouter_AuthAndScopes(t *testing.T) {
	cfg := testConfig()
	deps, _ := memoryDeps(cfg)
	r := NewRouter(cfg, deps)

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		status int
	}{
		{"anonymous read", http.MethodGet, "/api/v1/organizations", "", http.StatusOK},
		{"anonymous write", http.MethodPost, "/api/v1/organizations", "", http.StatusUnauthorized},
		{"garbage token", http.MethodPost, "/api/v1/organizations", "not-a-jwt", http.StatusUnauthorized},
		{"non-admin registers org", http.MethodPost, "/api/v1/organizations", token(t, "someone", auth.ScopeExchangeTrade), http.StatusForbidden},
		{"sell without trade scope", http.MethodPost, "/api/v1/organizations/x/projects/0/sell", token(t, "buyer"), http.StatusForbidden},
		{"transfer without scope", http.MethodPost, "/api/v1/accounts/transfer", token(t, "buyer"), http.StatusForbidden},
		{"archives need admin", http.MethodGet, "/api/v1/admin/archives", token(t, "buyer", auth.ScopeExchangeTrade), http.StatusForbidden},
		{"archives for admin", http.MethodGet, "/api/v1/admin/archives", token(t, adminAccount), http.StatusOK},
		{"api keys absent without store", http.MethodGet, "/api/v1/admin/api-keys", token(t, adminAccount), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(r, tt.method, tt.path, tt.bearer, map[string]string{})
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := testConfig()
	deps, _ := memoryDeps(cfg)
	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})
	t.Cleanup(rl.Stop)
	deps.Limiter = rl
	r := NewRouter(cfg, deps)

	if w := call(r, http.MethodGet, "/api/v1/organizations", "", nil); w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", w.Code)
	}
	if w := call(r, http.MethodGet, "/api/v1/organizations", "", nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status = %d, want 429", w.Code)
	}
	// Probes are outside the limited group
	if w := call(r, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", w.Code)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	cfg := testConfig()
	deps, _ := memoryDeps(cfg)
	r := NewRouter(cfg, deps)

	w := call(r, http.MethodGet, "/api/v1/organizations", "", nil)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}
