package v1

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
	"docqa/src/infrastructure/job"
	"docqa/src/log"
)

type DocumentService interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*rag.Document, error)
	Get(ctx context.Context, filename string) (*rag.Document, error)
	List(ctx context.Context) ([]rag.Document, error)
	MaxBytes() int64
}

type Indexer interface {
	Index(ctx context.Context, filename string, opts ...rag.IndexOption) (int, error)
}

type JobService interface {
	EnqueueIndex(ctx context.Context, filename string) (*job.Job, error)
	Get(ctx context.Context, id int) (*job.Job, error)
}

type QuestionService interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

type ConversationService interface {
	List(ctx context.Context) ([]rag.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]rag.Message, error)
}

type SystemService interface {
	CheckHealth(ctx context.Context) (*rag.HealthStatus, error)
}

type Handler struct {
	docService  DocumentService
	indexer     Indexer
	jobService  JobService
	qaService   QuestionService
	convService ConversationService
	sysService  SystemService
}

// NewHandler builds the v1 API. jobService may be nil, in which case
// asynchronous indexing is rejected.
func NewHandler(
	docService DocumentService,
	indexer Indexer,
	jobService JobService,
	qaService QuestionService,
	convService ConversationService,
	sysService SystemService,
) *Handler {
	return &Handler{
		docService:  docService,
		indexer:     indexer,
		jobService:  jobService,
		qaService:   qaService,
		convService: convService,
		sysService:  sysService,
	}
}

// RegisterRoutes registers all v1 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Document routes
	v1.POST("/documents", h.UploadDocument)
	v1.GET("/documents", h.ListDocuments)
	v1.POST("/documents/:filename/index", h.IndexDocument)

	// Job routes
	v1.GET("/jobs/:id", h.GetJob)

	// Question routes
	v1.POST("/questions", h.AskQuestion)

	// Conversation routes
	v1.GET("/conversations", h.ListConversations)
	v1.GET("/conversations/:id/messages", h.ListMessages)

	// System routes
	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func sendError(c *gin.Context, err error) {
	var (
		status int
		code   string
	)
	switch rag.KindOf(err) {
	case rag.KindValidation:
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case rag.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case rag.KindEmptyIndex:
		status, code = http.StatusConflict, "EMPTY_INDEX"
	case rag.KindExtraction:
		status, code = http.StatusInternalServerError, "EXTRACTION_ERROR"
	case rag.KindEmbedding:
		status, code = http.StatusInternalServerError, "EMBEDDING_ERROR"
	case rag.KindGeneration:
		status, code = http.StatusInternalServerError, "GENERATION_ERROR"
	default:
		status, code = http.StatusInternalServerError, "INTERNAL_ERROR"
	}

	// Server side failures keep their details in the log.
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error(err, "Request failed", "method", c.Request.Method, "path", c.FullPath())
		message = "internal server error"
		var ragErr *rag.Error
		if errors.As(err, &ragErr) {
			message = ragErr.Message
		}
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
