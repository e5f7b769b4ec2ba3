package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AdithyaSrivastava01/Somnium/internal/infra/logger"
)

const (
	// RequestIDHeader carries the correlation id in both directions.
	RequestIDHeader = "X-Request-ID"

	requestMetadataKey = "request_metadata"
	unknownClientIP    = "unknown"
)

// RequestMetadata holds request-scoped provenance used for auditing.
type RequestMetadata struct {
	RequestID string
	IP        string
	UserAgent string
	UserID    string
}

// RequestContext assigns a request id, propagates it through the request
// context for logging and records the client provenance.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		c.Header(RequestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(requestMetadataKey, &RequestMetadata{
			RequestID: reqID,
			IP:        ClientIP(c.Request),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// ClientIP resolves the originating address: the first X-Forwarded-For
// entry, then X-Real-IP, then the peer address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if host == "" {
		return unknownClientIP
	}
	return host
}

// Metadata returns the provenance recorded by RequestContext. Requests that
// bypassed the middleware get metadata derived on the spot.
func Metadata(c *gin.Context) *RequestMetadata {
	if value, exists := c.Get(requestMetadataKey); exists {
		if meta, ok := value.(*RequestMetadata); ok {
			return meta
		}
	}
	meta := &RequestMetadata{
		RequestID: logger.RequestIDFromContext(c.Request.Context()),
		IP:        ClientIP(c.Request),
		UserAgent: c.Request.UserAgent(),
	}
	c.Set(requestMetadataKey, meta)
	return meta
}

// GetRequestID returns the correlation id of the request.
func GetRequestID(c *gin.Context) string {
	return Metadata(c).RequestID
}
