package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"askdoc/internal/app"
	"askdoc/internal/transport/http/middleware"
	"askdoc/internal/transport/http/response"
)

// writeError maps service sentinels onto the response envelope. fallback is the
// message used for unexpected failures so internals do not leak to callers.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "UNAUTHORIZED")
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "NOT_FOUND")
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCursor):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidCursor, err.Error())
	case errors.Is(err, app.ErrDocumentNotReady):
		response.Error(c, http.StatusConflict, response.CodeDocumentNotReady, err.Error())
	case errors.Is(err, app.ErrPersistence):
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, app.ErrPersistence.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func callerID(c *gin.Context) (string, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "UNAUTHORIZED")
	}
	return id, ok
}
