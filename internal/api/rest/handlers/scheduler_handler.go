package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/billing-scheduler/internal/scheduler"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
)

// Scheduler то, что REST слой использует у планировщика
type Scheduler interface {
	ProcessNow(ctx context.Context) (scheduler.BatchReport, error)
	Status() scheduler.Status
}

// SchedulerHandler обработчик ручного запуска пакета
type SchedulerHandler struct {
	sched Scheduler
	log   *logger.Logger
}

// NewSchedulerHandler создает новый обработчик планировщика
func NewSchedulerHandler(sched Scheduler, log *logger.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		sched: sched,
		log:   log,
	}
}

// ProcessNow запускает пакет списаний. Если пакет уже идет, отвечает 409.
func (h *SchedulerHandler) ProcessNow(c *gin.Context) {
	report, err := h.sched.ProcessNow(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err, "process batch")
		return
	}

	res.JSON(c, http.StatusOK, report)
}

// Status возвращает состояние планировщика
func (h *SchedulerHandler) Status(c *gin.Context) {
	res.JSON(c, http.StatusOK, h.sched.Status())
}
