package middleware

import (
	"context"
	"strings"

	"redlight/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	maxCorrelationIDLen = 128
)

var correlationIDs = []struct {
	header string
	key    contextkey.Key
}{
	{traceIDHeader, contextkey.TraceID},
	{requestIDHeader, contextkey.RequestID},
}

// TraceContextMiddleware propagates X-Trace-Id and X-Request-Id. Missing or
// malformed inbound values are replaced with fresh UUIDs. Each id is stored
// on the gin context, the request context and the response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		for _, id := range correlationIDs {
			value := strings.TrimSpace(c.GetHeader(id.header))
			if !validCorrelationID(value) {
				value = uuid.NewString()
			}
			c.Set(string(id.key), value)
			ctx = context.WithValue(ctx, id.key, value)
			c.Writer.Header().Set(id.header, value)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func validCorrelationID(v string) bool {
	if v == "" || len(v) > maxCorrelationIDLen {
		return false
	}
	for _, r := range v {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
