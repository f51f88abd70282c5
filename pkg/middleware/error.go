package middleware

import (
	"net/http"

	"convtrack/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error a handler attached via c.Error. BaseError
// carries its own status mapping; anything else becomes a plain 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil || c.Writer.Written() {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), v.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: err.Error(),
		}.JSON())
	}
}
