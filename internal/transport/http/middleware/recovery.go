package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	applog "askdoc/internal/platform/log"
	"askdoc/internal/transport/http/response"
)

// Recovery turns handler panics into a 500 envelope. http.ErrAbortHandler is passed
// through so net/http drops the connection without terminating a chunked body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			applog.Error("handler panic",
				"method", c.Request.Method,
				"path", c.FullPath(),
				"panic", rec,
			)
			if c.Writer.Written() {
				panic(http.ErrAbortHandler)
			}
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "internal server error")
			c.Abort()
		}()
		c.Next()
	}
}
