// Package middleware (rbac.go) implements scope-based authorization middleware.
//
// Scopes come from the principal resolved by AuthMiddleware: JWT claims or the API key
// row. The registry admin account is granted every scope at authentication time.

package middleware

import (
	"net/http"

	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/gin-gonic/gin"
)

// RequireScope checks if the authenticated caller has the required scope
func RequireScope(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "unauthenticated",
			})
			return
		}

		if !p.Can(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Missing required scope: " + string(scope),
				"code":  "forbidden",
			})
			return
		}

		c.Next()
	}
}

// RequireAnyScope checks if the authenticated caller has at least one of the scopes
func RequireAnyScope(scopes ...auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "unauthenticated",
			})
			return
		}

		if !auth.HasAnyScope(p.Scopes, scopes) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Missing required scope",
				"code":  "forbidden",
			})
			return
		}

		c.Next()
	}
}
