package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/softcenter/internal/models"
	"github.com/charlesng35/softcenter/internal/tasks"
	"github.com/charlesng35/softcenter/pkg/response"
)

// Task kinds whose payload carries secrets and is never returned to clients.
var redactedPayloadKinds = map[string]struct{}{
	models.TaskMailPasswordReset: {},
}

// TaskHandler exposes background task records to administrators.
type TaskHandler struct {
	queue *tasks.Queue
}

func NewTaskHandler(queue *tasks.Queue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

// GET /api/v1/tasks?status=failed&kind=ledger.rescan&userId=...&limit=50
func (h *TaskHandler) List(c *gin.Context) {
	records, err := h.queue.List(requestContext(c), tasks.ListOptions{
		Status: strings.TrimSpace(c.Query("status")),
		Kind:   strings.TrimSpace(c.Query("kind")),
		UserID: strings.TrimSpace(c.Query("userId")),
		Limit:  parseIntQuery(c, "limit", 50),
	})
	if err != nil {
		fail(c, err)
		return
	}

	for i := range records {
		if _, ok := redactedPayloadKinds[records[i].Kind]; ok {
			records[i].Payload = nil
		}
	}
	if records == nil {
		records = []models.BackgroundTask{}
	}
	response.Success(c, http.StatusOK, records)
}
