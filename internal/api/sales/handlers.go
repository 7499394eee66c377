// Package sales implements the exchange HTTP handlers: buying credits from a project,
// price quotes, and the public sale event feed.
package sales

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cct-registry/cct-registry/internal/api/httperr"
	"github.com/cct-registry/cct-registry/internal/api/organizations"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/exchange"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/gin-gonic/gin"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// EventLister reads committed sale events in sequence order
type EventLister interface {
	ListSaleEvents(ctx context.Context, f models.SaleEventFilter) ([]*models.SaleEvent, error)
}

// Handlers serves the exchange endpoints
type Handlers struct {
	exchange *exchange.Exchange
	events   EventLister
}

// NewHandlers creates exchange handlers
func NewHandlers(ex *exchange.Exchange, events EventLister) *Handlers {
	return &Handlers{exchange: ex, events: events}
}

// SellRequest buys quantity credits, attaching payment in native currency minor units
type SellRequest struct {
	Quantity uint64 `json:"quantity"`
	Payment  uint64 `json:"payment"`
}

// @Summary      Buy credits
// @Description  Buys quantity credits from a project at the fixed unit price. The payment is debited from the caller's account; excess is handled by the configured overpayment policy.
// @Tags         Exchange
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        org    path  string       true  "Organization ID"
// @Param        index  path  int          true  "Project index"
// @Param        body   body  SellRequest  true  "Purchase"
// @Success      200  {object}  models.SaleReceipt
// @Failure      400  {object}  map[string]interface{}  "Invalid quantity"
// @Failure      402  {object}  map[string]interface{}  "Insufficient payment or funds"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      409  {object}  map[string]interface{}  "Insufficient supply"
// @Router       /api/v1/organizations/{org}/projects/{index}/sell [post]
// SellHandler settles one purchase for the authenticated buyer
func (h *Handlers) SellHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		index, ok := organizations.ParseIndex(c)
		if !ok {
			return
		}

		var req SellRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request: "+err.Error())
			return
		}

		p := middleware.GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "unauthenticated",
			})
			return
		}

		receipt, err := h.exchange.Sell(c.Request.Context(), exchange.SellRequest{
			Buyer:        p.Account,
			Quantity:     req.Quantity,
			OrgID:        c.Param("org"),
			ProjectIndex: index,
			Attached:     req.Payment,
			RequestID:    middleware.GetRequestID(c),
		})
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, receipt)
	}
}

// QuoteHandler returns the price of a quantity
// GET /api/v1/exchange/quote?quantity=N
func (h *Handlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quantity, err := strconv.ParseUint(c.Query("quantity"), 10, 64)
		if err != nil {
			httperr.BadRequest(c, "quantity must be a non-negative integer")
			return
		}
		required, err := h.exchange.Quote(quantity)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"quantity":   quantity,
			"unit_price": h.exchange.UnitPrice(),
			"required":   required,
		})
	}
}

// @Summary      List sale events
// @Description  Returns committed sale events in sequence order. Use the last sequence as the next "after" cursor. Sequences commit in ascending order, so a cursor never skips an event that commits later.
// @Tags         Exchange
// @Produce      json
// @Param        org      query  string  false  "Organization ID"
// @Param        project  query  int     false  "Project index (requires org)"
// @Param        buyer    query  string  false  "Buyer account"
// @Param        after    query  int     false  "Exclusive sequence cursor"
// @Param        limit    query  int     false  "Page size (default 100, max 1000)"
// @Success      200  {object}  map[string]interface{}  "events and next cursor"
// @Router       /api/v1/events [get]
// ListEventsHandler pages through the sale event log
func (h *Handlers) ListEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		f := models.SaleEventFilter{
			OrgID: c.Query("org"),
			Buyer: c.Query("buyer"),
			Limit: defaultEventLimit,
		}

		if v := c.Query("project"); v != "" {
			idx, err := strconv.Atoi(v)
			if err != nil || idx < 0 {
				httperr.BadRequest(c, "project must be a non-negative integer")
				return
			}
			if f.OrgID == "" {
				httperr.BadRequest(c, "project filter requires org")
				return
			}
			f.ProjectIndex = &idx
		}
		if v := c.Query("after"); v != "" {
			after, err := strconv.ParseInt(v, 10, 64)
			if err != nil || after < 0 {
				httperr.BadRequest(c, "after must be a non-negative integer")
				return
			}
			f.After = after
		}
		if v := c.Query("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				httperr.BadRequest(c, "limit must be a positive integer")
				return
			}
			f.Limit = min(limit, maxEventLimit)
		}

		events, err := h.events.ListSaleEvents(c.Request.Context(), f)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		if events == nil {
			events = []*models.SaleEvent{}
		}

		next := f.After
		if len(events) > 0 {
			next = events[len(events)-1].Sequence
		}
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"next":   next,
		})
	}
}
