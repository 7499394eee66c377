package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID is stored
	RequestIDKey = "request_id"

	// maxRequestIDLength caps inbound identifiers before they reach logs and sale events
	maxRequestIDLength = 128
)

// RequestIDMiddleware ensures every request carries an X-Request-ID.
//
// An inbound header set by a load balancer or the caller is reused when it is printable
// and at most 128 bytes; otherwise a new UUID v4 is generated. The identifier is echoed
// in the response and recorded on the SaleEvent of a sell request, so a buyer can match
// a receipt against the event feed.
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
//	router.Use(LoggerMiddleware())
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID returns the identifier set by RequestIDMiddleware, or ""
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
