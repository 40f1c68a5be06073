package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler обработчик проверки работоспособности
type HealthHandler struct {
	sched Scheduler
}

// NewHealthHandler создает новый обработчик проверки работоспособности
func NewHealthHandler(sched Scheduler) *HealthHandler {
	return &HealthHandler{sched: sched}
}

// HealthCheck обработчик для проверки работоспособности сервиса
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.sched.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":            "OK",
		"time":              time.Now().UTC().Format(time.RFC3339),
		"scheduler_started": status.Started,
	})
}
