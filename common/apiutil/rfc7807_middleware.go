package apiutil

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Aidin1998/tickex/pkg/errors"
)

const traceIDKey = "trace_id"

// TraceMiddleware assigns every request a trace id, reusing X-Trace-ID when the
// caller sent one, and echoes it back.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDKey, traceID)
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

// RFC7807ErrorMiddleware renders the last error a handler attached with
// c.Error as application/problem+json, unless a response was already written.
func RFC7807ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		if c.Errors.Last().Type == gin.ErrorTypeBind {
			err = errors.InvalidRequest.Explain("Request binding failed: %s", err.Error()).Wrap(err)
		}
		RFC7807ErrorResponse(c, errors.ToProblemDetails(err, c.Request.URL.Path))
		c.Abort()
	}
}

// GetTraceID extracts trace ID from context
func GetTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(traceIDKey); exists {
		if id, ok := traceID.(string); ok {
			return id
		}
	}
	return c.GetHeader("X-Trace-ID")
}

// RFC7807ErrorResponse writes an RFC 7807 compliant error response
func RFC7807ErrorResponse(c *gin.Context, problemDetails *errors.ProblemDetails) {
	if traceID := GetTraceID(c); traceID != "" {
		problemDetails.WithTraceID(traceID)
	}
	c.Header("Content-Type", "application/problem+json")
	c.JSON(problemDetails.Status, problemDetails)
}
