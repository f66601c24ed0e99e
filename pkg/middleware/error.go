package middleware

import (
	"errors"
	"net/http"

	"github.com/czue/commcare-connect/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last handler error as a JSON body using the errutil
// status mapping. Unknown errors become a plain 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": errutil.StatusInternal, "message": last.Error()},
		})
	}
}
