package middleware

import (
	"errors"
	"net/http"

	"stakearn-backend/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last gin error as the errutil JSON body. Store faults are
// surfaced generically; the wrapped cause is logged, never returned.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			if be.Code == errutil.StatusInternal {
				zap.L().Error("request failed on server fault",
					zap.String("path", c.FullPath()),
					zap.Error(be.Unwrap()),
				)
				c.JSON(be.Code.HTTPStatus(), errutil.BaseError{
					Code:    be.Code,
					Message: "internal error",
				}.JSON())
				return
			}
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(last.Err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": errutil.StatusInternal, "message": "internal error"}})
	}
}
