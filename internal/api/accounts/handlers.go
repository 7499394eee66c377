// Package accounts implements the native currency endpoints: balance reads and
// transfers out of the caller's own account.
package accounts

import (
	"net/http"

	"github.com/cct-registry/cct-registry/internal/api/httperr"
	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/ledger"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Handlers serves /api/v1/accounts
type Handlers struct {
	ledger *ledger.Service
}

// NewHandlers creates account handlers
func NewHandlers(svc *ledger.Service) *Handlers {
	return &Handlers{ledger: svc}
}

// TransferRequest moves currency from the caller to another account
type TransferRequest struct {
	To     string `json:"to" binding:"required"`
	Amount uint64 `json:"amount"`
}

// GetAccountHandler returns a balance. Callers may read their own account; the
// administrator may read any.
// GET /api/v1/accounts/:id
func (h *Handlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		p := middleware.GetPrincipal(c)
		if p == nil || (p.Account != id && !p.Can(auth.ScopeAdmin)) {
			httperr.Forbidden(c, "Balances are only visible to their owner")
			return
		}

		acct, err := h.ledger.Balance(c.Request.Context(), id)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, acct)
	}
}

// @Summary      Transfer currency
// @Tags         Accounts
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  TransferRequest  true  "Transfer"
// @Success      200  {object}  map[string]interface{}  "Balances after the transfer"
// @Failure      400  {object}  map[string]interface{}  "Invalid amount"
// @Failure      402  {object}  map[string]interface{}  "Insufficient funds"
// @Router       /api/v1/accounts/transfer [post]
// TransferHandler moves currency out of the authenticated caller's account
func (h *Handlers) TransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := middleware.GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "unauthenticated",
			})
			return
		}

		var req TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, "Invalid request: "+err.Error())
			return
		}

		ctx := c.Request.Context()
		if err := h.ledger.Transfer(ctx, p.Account, req.To, req.Amount); err != nil {
			httperr.Respond(c, err)
			return
		}

		from, err := h.ledger.Balance(ctx, p.Account)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"from":    from.ID,
			"to":      req.To,
			"amount":  req.Amount,
			"balance": from.Balance,
		})
	}
}
