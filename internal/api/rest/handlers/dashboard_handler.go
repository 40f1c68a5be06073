package handlers

import (
	"net/http"

	"github.com/Dhoini/billing-scheduler/internal/service"
	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
)

// DashboardHandler отдает сводку для экрана оператора
type DashboardHandler struct {
	svc service.BillingService
}

// NewDashboardHandler создает новый обработчик сводки
func NewDashboardHandler(svc service.BillingService) *DashboardHandler {
	return &DashboardHandler{svc: svc}
}

// GetDashboard возвращает подписки, транзакции и итоги
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	res.JSON(c, http.StatusOK, h.svc.Dashboard(c.Request.Context()))
}
