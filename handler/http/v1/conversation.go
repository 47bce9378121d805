package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
)

// ListConversations godoc
// @Summary List conversations, newest first
// @Tags conversations
// @Produce json
// @Success 200 {array} rag.Conversation
// @Router /conversations [get]
func (h *Handler) ListConversations(c *gin.Context) {
	convs, err := h.convService.List(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	if convs == nil {
		convs = []rag.Conversation{}
	}
	sendJSON(c, http.StatusOK, convs)
}

// ListMessages godoc
// @Summary List the messages of a conversation
// @Tags conversations
// @Param id path string true "Conversation ID"
// @Produce json
// @Success 200 {array} rag.Message
// @Failure 404 {object} ErrorResponse
// @Router /conversations/{id}/messages [get]
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.convService.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendError(c, err)
		return
	}
	if msgs == nil {
		msgs = []rag.Message{}
	}
	sendJSON(c, http.StatusOK, msgs)
}
