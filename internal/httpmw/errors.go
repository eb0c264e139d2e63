package httpmw

import (
	"github.com/gin-gonic/gin"

	"github.com/samotage/claude-headspace-sub014/internal/apperr"
)

// ErrorMapper translates a handler's recorded *apperr.Error (via
// c.Errors or AbortWithAppErr) into the uniform JSON body and status
// code spec.md §7 requires at every endpoint.
func ErrorMapper() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		status, body := apperr.ToBody(c.Errors.Last().Err)
		c.JSON(status, body)
	}
}

// AbortWithAppErr records err and aborts the chain; ErrorMapper renders it.
func AbortWithAppErr(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
