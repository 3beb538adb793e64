package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/storesync/internal/api/middleware"
	"github.com/timmy/storesync/internal/logger"
	"github.com/timmy/storesync/internal/queue"
)

// DeadLetterQueue is a queue whose buried tasks can be listed. Both queue
// backends implement it.
type DeadLetterQueue interface {
	queue.Queue
	Dead(ctx context.Context, limit int) ([]queue.Task, error)
}

// AdminHandler exposes queue state to operators.
type AdminHandler struct {
	queue DeadLetterQueue
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - q: the extraction queue.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(q DeadLetterQueue) *AdminHandler {
	return &AdminHandler{queue: q}
}

// DeadTask is the operator view of a buried task.
type DeadTask struct {
	ID        string    `json:"id"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// RequireAdmin rejects callers without the admin role.
func (h *AdminHandler) RequireAdmin(c *gin.Context) {
	if !middleware.ActorFrom(c).Admin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Admin role required",
		})
		return
	}
	c.Next()
}

// QueueStats handles GET /api/v1/admin/queue.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":     stats.Ready,
		"delayed":   stats.Delayed,
		"in_flight": stats.InFlight,
		"dead":      stats.Dead,
	})
}

// DeadLetters handles GET /api/v1/admin/queue/dead?limit=.
func (h *AdminHandler) DeadLetters(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be between 1 and 500",
		})
		return
	}

	tasks, err := h.queue.Dead(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]DeadTask, len(tasks))
	for i, t := range tasks {
		out[i] = DeadTask{
			ID:        t.ID,
			Attempts:  t.Attempts,
			LastError: t.LastError,
			Payload:   string(t.Payload),
			CreatedAt: t.CreatedAt,
		}
	}
	middleware.GetLogger(c).WithField(logger.FieldCount, len(out)).Debug("Listed dead letters")
	c.JSON(http.StatusOK, gin.H{
		"tasks": out,
		"total": len(out),
	})
}
