package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"askdoc/internal/app"
	applog "askdoc/internal/platform/log"
	"askdoc/internal/transport/http/response"
)

type MessageHandler struct {
	pipeline       *app.QueryPipeline
	messageService *app.MessageService
}

type SendMessageRequest struct {
	DocumentID string `json:"documentId" binding:"required"`
	Text       string `json:"text"`
}

func NewMessageHandler(pipeline *app.QueryPipeline, messageService *app.MessageService) *MessageHandler {
	return &MessageHandler{pipeline: pipeline, messageService: messageService}
}

// SendMessage answers a question about a document as a chunked plain text body.
// Failures before the first byte use the JSON envelope; later failures abort the
// connection so the body is never terminated cleanly.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	stream, err := h.pipeline.Handle(c.Request.Context(), app.SendMessageInput{
		CallerID:   userID,
		DocumentID: req.DocumentID,
		Text:       req.Text,
	})
	if err != nil {
		if errors.Is(err, app.ErrPersistence) {
			applog.Error("persist user message failed", "document_id", req.DocumentID, "error", err)
		}
		writeError(c, err, "send message failed")
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Message-Id", stream.UserMessage.ID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		fragment, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				applog.Info("client disconnected mid-answer", "document_id", req.DocumentID)
				return
			}
			applog.Error("answer stream failed", "document_id", req.DocumentID, "error", err)
			panic(http.ErrAbortHandler)
		}
		if _, err := c.Writer.WriteString(fragment); err != nil {
			applog.Info("write answer fragment failed", "document_id", req.DocumentID, "error", err)
			return
		}
		c.Writer.Flush()
	}
}

func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.messageService.ListMessages(c.Request.Context(), app.ListMessagesInput{
		CallerID:   userID,
		DocumentID: c.Param("id"),
		Limit:      limit,
		Cursor:     c.Query("cursor"),
	})
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}

	response.OK(c, page)
}
