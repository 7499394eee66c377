package sales

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/exchange"
	"github.com/cct-registry/cct-registry/internal/ledger"
	"github.com/cct-registry/cct-registry/internal/ledger/memory"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/cct-registry/cct-registry/internal/validator"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	admin = "registry-admin"
	org   = "test-company"
	buyer = "buyer-1"
)

type fixture struct {
	router *gin.Engine
	store  *memory.Store
	ledger *ledger.Service
}

// newFixture registers the reference organization and project and funds the buyer with 100
func newFixture(t *testing.T, caller string, gate validator.Gate) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	reg := registry.New(store, store, admin)
	svc := ledger.NewService(store)

	if _, err := reg.AddOrganization(ctx, admin, org, "Test Company", ""); err != nil {
		t.Fatalf("AddOrganization: %v", err)
	}
	if _, err := reg.AddProject(ctx, org, "Test Project", "Test Description", 1000, 3); err != nil {
		t.Fatalf("AddProject: %v", err)
	}
	if err := svc.ApplyGenesis(ctx, map[string]int64{buyer: 100}); err != nil {
		t.Fatalf("ApplyGenesis: %v", err)
	}

	ex := exchange.New(reg, store, gate, exchange.Pricing{UnitPrice: 2, OverpaymentPolicy: config.OverpaymentRefund})
	h := NewHandlers(ex, store)

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.Use(func(c *gin.Context) {
		if caller != "" {
			middleware.SetPrincipal(c, &auth.Principal{Account: caller, Method: auth.MethodJWT})
		}
	})
	r.POST("/organizations/:org/projects/:index/sell", h.SellHandler())
	r.GET("/exchange/quote", h.QuoteHandler())
	r.GET("/events", h.ListEventsHandler())
	return &fixture{router: r, store: store, ledger: svc}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) balance(t *testing.T, account string) int64 {
	t.Helper()
	acct, err := f.ledger.Balance(context.Background(), account)
	if err != nil {
		t.Fatalf("Balance(%s): %v", account, err)
	}
	return acct.Balance
}

func (f *fixture) events(t *testing.T) []*models.SaleEvent {
	t.Helper()
	evs, err := f.store.ListSaleEvents(context.Background(), models.SaleEventFilter{})
	if err != nil {
		t.Fatalf("ListSaleEvents: %v", err)
	}
	return evs
}

const sellPath = "/organizations/" + org + "/projects/0/sell"

// ---------------------------------------------------------------------------
// SellHandler
// ---------------------------------------------------------------------------

func TestSell_ReferenceScenario(t *testing.T) {
	f := newFixture(t, buyer, nil)

	w := f.do(http.MethodPost, sellPath, SellRequest{Quantity: 3, Payment: 6})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var receipt models.SaleReceipt
	if err := json.Unmarshal(w.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if receipt.Project.CCTListed != 3 || receipt.Project.CCTAmount != 1000 {
		t.Errorf("project = %+v, want 3 of 1000 listed", receipt.Project)
	}
	if receipt.Event.Quantity != 3 || receipt.Event.AmountPaid != 6 || receipt.Event.Buyer != buyer {
		t.Errorf("event = %+v", receipt.Event)
	}
	if receipt.Event.RequestID == nil || *receipt.Event.RequestID != w.Header().Get(middleware.RequestIDHeader) {
		t.Errorf("event request id = %v, want response header %q", receipt.Event.RequestID, w.Header().Get(middleware.RequestIDHeader))
	}

	if got := len(f.events(t)); got != 1 {
		t.Errorf("events = %d, want 1", got)
	}
	if got := f.balance(t, buyer); got != 94 {
		t.Errorf("buyer balance = %d, want 94", got)
	}
	if got := f.balance(t, org); got != 6 {
		t.Errorf("payout balance = %d, want 6", got)
	}
}

func TestSell_OverpaymentRefunded(t *testing.T) {
	f := newFixture(t, buyer, nil)

	w := f.do(http.MethodPost, sellPath, SellRequest{Quantity: 3, Payment: 10})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var receipt models.SaleReceipt
	_ = json.Unmarshal(w.Body.Bytes(), &receipt)
	if receipt.Refunded != 4 {
		t.Errorf("refunded = %d, want 4", receipt.Refunded)
	}
	if got := f.balance(t, buyer); got != 94 {
		t.Errorf("buyer balance = %d, want 94", got)
	}
}

func TestSell_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		req    SellRequest
		status int
		code   string
	}{
		{"zero quantity", sellPath, SellRequest{Quantity: 0, Payment: 10}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown project", "/organizations/" + org + "/projects/7/sell", SellRequest{Quantity: 1, Payment: 2}, http.StatusNotFound, "not_found"},
		{"unknown organization", "/organizations/nobody/projects/0/sell", SellRequest{Quantity: 1, Payment: 2}, http.StatusNotFound, "not_found"},
		{"underpaid", sellPath, SellRequest{Quantity: 3, Payment: 5}, http.StatusPaymentRequired, "insufficient_payment"},
		{"beyond supply", sellPath, SellRequest{Quantity: 1001, Payment: 2002}, http.StatusConflict, "insufficient_supply"},
		{"buyer lacks funds", sellPath, SellRequest{Quantity: 51, Payment: 102}, http.StatusPaymentRequired, "insufficient_funds"},
		{"bad index", "/organizations/" + org + "/projects/x/sell", SellRequest{Quantity: 1, Payment: 2}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, buyer, nil)

			w := f.do(http.MethodPost, tt.path, tt.req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			var body map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %q", body["code"], tt.code)
			}

			// Nothing moves on a rejected sale
			if got := len(f.events(t)); got != 0 {
				t.Errorf("events = %d, want 0", got)
			}
			if got := f.balance(t, buyer); got != 100 {
				t.Errorf("buyer balance = %d, want 100", got)
			}
			p, _ := f.store.GetProject(context.Background(), org, 0)
			if p.CCTListed != 0 {
				t.Errorf("cct_listed = %d, want 0", p.CCTListed)
			}
		})
	}
}

func TestSell_NotEligible(t *testing.T) {
	f := newFixture(t, buyer, validator.NewStatic(nil, []string{org}))

	w := f.do(http.MethodPost, sellPath, SellRequest{Quantity: 1, Payment: 2})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
	if got := len(f.events(t)); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestSell_Anonymous(t *testing.T) {
	f := newFixture(t, "", nil)

	w := f.do(http.MethodPost, sellPath, SellRequest{Quantity: 1, Payment: 2})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// QuoteHandler
// ---------------------------------------------------------------------------

func TestQuote(t *testing.T) {
	f := newFixture(t, "", nil)

	w := f.do(http.MethodGet, "/exchange/quote?quantity=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Quantity  uint64 `json:"quantity"`
		UnitPrice uint64 `json:"unit_price"`
		Required  uint64 `json:"required"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Quantity != 3 || body.UnitPrice != 2 || body.Required != 6 {
		t.Errorf("quote = %+v, want 3 x 2 = 6", body)
	}

	for _, q := range []string{"", "abc", "-1"} {
		if w := f.do(http.MethodGet, "/exchange/quote?quantity="+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("quantity=%q: status = %d, want 400", q, w.Code)
		}
	}
	if w := f.do(http.MethodGet, "/exchange/quote?quantity=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("quantity=0: status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListEventsHandler
// ---------------------------------------------------------------------------

type eventPage struct {
	Events []*models.SaleEvent `json:"events"`
	Next   int64               `json:"next"`
}

func TestListEvents(t *testing.T) {
	f := newFixture(t, buyer, nil)
	for i := 0; i < 3; i++ {
		if w := f.do(http.MethodPost, sellPath, SellRequest{Quantity: 1, Payment: 2}); w.Code != http.StatusOK {
			t.Fatalf("sell %d: status = %d", i, w.Code)
		}
	}

	var page eventPage
	w := f.do(http.MethodGet, "/events?limit=2", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Events) != 2 || page.Next != 2 {
		t.Fatalf("first page = %d events next %d, want 2 next 2", len(page.Events), page.Next)
	}

	w = f.do(http.MethodGet, "/events?after=2", nil)
	page = eventPage{}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Events) != 1 || page.Events[0].Sequence != 3 {
		t.Errorf("second page = %+v, want sequence 3 only", page.Events)
	}

	w = f.do(http.MethodGet, "/events?org="+org+"&project=0&buyer="+buyer, nil)
	page = eventPage{}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Events) != 3 {
		t.Errorf("filtered = %d events, want 3", len(page.Events))
	}

	w = f.do(http.MethodGet, "/events?buyer=someone-else", nil)
	page = eventPage{}
	_ = json.Unmarshal(w.Body.Bytes(), &page)
	if len(page.Events) != 0 || page.Next != 0 {
		t.Errorf("other buyer = %d events next %d, want empty", len(page.Events), page.Next)
	}
}

func TestListEvents_BadQuery(t *testing.T) {
	f := newFixture(t, "", nil)
	for _, q := range []string{"project=0", "org=x&project=-1", "after=abc", "limit=0", "limit=x"} {
		if w := f.do(http.MethodGet, "/events?"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}
