package apiutil

import (
	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/tickex/pkg/errors"
)

// WriteError renders err as problem details and stops the handler chain.
func WriteError(c *gin.Context, err error) {
	RFC7807ErrorResponse(c, errors.ToProblemDetails(err, c.Request.URL.Path))
	c.Abort()
}
