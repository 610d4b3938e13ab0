package handler

import (
	"errors"
	"net/http"

	"pairchat/internal/transport/httpdto"
	pairchat_errors "pairchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	code := "REQUEST_FAILED"
	switch {
	case errors.Is(err, pairchat_errors.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, pairchat_errors.ErrInvalidInput):
		code = "INVALID_REQUEST"
	case errors.Is(err, pairchat_errors.ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
		code = "TOO_LARGE"
	case errors.Is(err, pairchat_errors.ErrNotUploaded):
		status = http.StatusBadGateway
		code = "UPLOAD_FAILED"
	case errors.Is(err, pairchat_errors.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
		code = "UNAVAILABLE"
	case errors.Is(err, pairchat_errors.ErrForbidden):
		status = http.StatusForbidden
		code = "FORBIDDEN"
	}
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
}
