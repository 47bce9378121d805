package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docqa/src/core/rag"
)

// GetJob godoc
// @Summary Get background job status
// @Tags jobs
// @Param id path int true "Job ID"
// @Produce json
// @Success 200 {object} job.Job
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		sendError(c, rag.ValidationError("invalid job id %q", c.Param("id")))
		return
	}
	if h.jobService == nil {
		sendError(c, rag.NotFoundError("job %d not found", id))
		return
	}

	j, err := h.jobService.Get(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	sendJSON(c, http.StatusOK, j)
}
