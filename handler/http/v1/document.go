package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
)

// multipart framing allowance on top of the file size limit
const multipartOverhead = 1 << 20

type indexResponse struct {
	Filename  string `json:"filename"`
	NumChunks int    `json:"num_chunks"`
}

// UploadDocument godoc
// @Summary Upload a PDF
// @Tags documents
// @Accept multipart/form-data
// @Param file formData file true "PDF file"
// @Produce json
// @Success 200 {object} rag.Document
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents [post]
func (h *Handler) UploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.docService.MaxBytes()+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(c, rag.ValidationError("file exceeds the maximum size of %d MiB", h.docService.MaxBytes()>>20))
			return
		}
		sendError(c, rag.ValidationError("file upload required: %v", err))
		return
	}
	defer file.Close()

	doc, err := h.docService.Upload(c.Request.Context(), header.Filename, file)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, doc)
}

// ListDocuments godoc
// @Summary List uploaded documents
// @Tags documents
// @Produce json
// @Success 200 {array} rag.Document
// @Failure 500 {object} ErrorResponse
// @Router /documents [get]
func (h *Handler) ListDocuments(c *gin.Context) {
	docs, err := h.docService.List(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	if docs == nil {
		docs = []rag.Document{}
	}
	sendJSON(c, http.StatusOK, docs)
}

// IndexDocument godoc
// @Summary Index an uploaded document
// @Tags documents
// @Param filename path string true "Document filename"
// @Param async query bool false "Run as a background job"
// @Produce json
// @Success 200 {object} indexResponse
// @Success 202 {object} job.Job
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /documents/{filename}/index [post]
func (h *Handler) IndexDocument(c *gin.Context) {
	ctx := c.Request.Context()
	filename := c.Param("filename")

	if c.Query("async") == "true" {
		if h.jobService == nil {
			sendError(c, rag.ValidationError("background jobs are not enabled"))
			return
		}
		if _, err := h.docService.Get(ctx, filename); err != nil {
			sendError(c, err)
			return
		}
		j, err := h.jobService.EnqueueIndex(ctx, filename)
		if err != nil {
			sendError(c, err)
			return
		}
		sendJSON(c, http.StatusAccepted, j)
		return
	}

	n, err := h.indexer.Index(ctx, filename)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, indexResponse{Filename: filename, NumChunks: n})
}
