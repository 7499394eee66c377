// Package httperr maps domain errors to HTTP responses. Every handler reports failures
// through Respond so the status codes and the {"error", "code"} body stay uniform.
package httperr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/gin-gonic/gin"
)

// mapping pairs a sentinel with its status and machine-readable code
type mapping struct {
	err    error
	status int
	code   string
}

var mappings = []mapping{
	{registry.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{registry.ErrDuplicateOrganization, http.StatusConflict, "duplicate_organization"},
	{registry.ErrNotFound, http.StatusNotFound, "not_found"},
	{registry.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{registry.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{registry.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{registry.ErrInvalidPayment, http.StatusBadRequest, "invalid_payment"},
	{registry.ErrInsufficientPayment, http.StatusPaymentRequired, "insufficient_payment"},
	{registry.ErrInsufficientSupply, http.StatusConflict, "insufficient_supply"},
	{registry.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{registry.ErrBalanceOverflow, http.StatusConflict, "balance_overflow"},
	{registry.ErrNotEligible, http.StatusForbidden, "not_eligible"},
	{registry.ErrValidatorUnavailable, http.StatusServiceUnavailable, "validator_unavailable"},
}

// Classify returns the status and code for err. Unknown errors are internal.
func Classify(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// Respond aborts the request with the response for err. Internal errors are logged
// and replaced by a generic message.
func Respond(c *gin.Context, err error) {
	status, code := Classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(),
			"request_id", c.GetString("request_id"), "error", err)
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

// BadRequest aborts with a 400 for malformed input that never reached the domain
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": "bad_request"})
}

// Forbidden aborts with a 403 for callers acting outside their own identity
func Forbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msg, "code": "forbidden"})
}
