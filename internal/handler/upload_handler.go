package handler

import (
	"io"
	"net/http"

	"pairchat/internal/chat"
	"pairchat/internal/middleware"
	"pairchat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	service *chat.Service
}

func NewUploadHandler(service *chat.Service) *UploadHandler {
	return &UploadHandler{service: service}
}

// Upload stores one multipart file as a chat attachment and returns its
// durable reference for a later send.
func (h *UploadHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("file is required", "INVALID_REQUEST"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("cannot read file", "INVALID_REQUEST"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("cannot read file", "INVALID_REQUEST"))
		return
	}

	att, err := h.service.UploadChatAttachment(c.Request.Context(), userID, chat.File{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromAttachment(att)))
}
