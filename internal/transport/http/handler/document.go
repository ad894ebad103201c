package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"askdoc/internal/app"
	"askdoc/internal/transport/http/response"
)

const defaultMaxUploadSize = 10 << 20 // 10 MB

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
}

type DocumentHandler struct {
	ingestService *app.IngestService
	maxUploadSize int64
}

func NewDocumentHandler(ingestService *app.IngestService, maxUploadSize int64) *DocumentHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &DocumentHandler{ingestService: ingestService, maxUploadSize: maxUploadSize}
}

// Upload accepts a multipart form with "file" (PDF, Word or plain text) and optional "name".
// The document is returned immediately in PROCESSING; poll Get for the outcome.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	// room for the multipart framing around the file
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > h.maxUploadSize {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF and text files are allowed")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}

	doc, err := h.ingestService.Ingest(c.Request.Context(), app.IngestInput{
		OwnerID: userID,
		Name:    name,
		Content: content,
	})
	if err != nil {
		writeError(c, err, "ingest failed")
		return
	}

	response.Accepted(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	docs, err := h.ingestService.ListDocuments(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	doc, err := h.ingestService.GetDocument(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}
