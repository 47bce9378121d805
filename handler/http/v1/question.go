package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
)

// AskQuestion godoc
// @Summary Answer a question from the indexed documents
// @Tags questions
// @Accept json
// @Produce json
// @Param body body rag.Question true "Question"
// @Success 200 {object} rag.Answer
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /questions [post]
func (h *Handler) AskQuestion(c *gin.Context) {
	var req rag.Question
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, rag.ValidationError("invalid request body: %v", err))
		return
	}

	answer, err := h.qaService.Ask(c.Request.Context(), req)
	if err != nil {
		sendError(c, err)
		return
	}

	sendJSON(c, http.StatusOK, answer)
}
