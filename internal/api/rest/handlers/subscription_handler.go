package handlers

import (
	"context"
	"net/http"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/service"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/Dhoini/billing-scheduler/pkg/req"
	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
)

// SubscriptionHandler обработчик для подписок
type SubscriptionHandler struct {
	svc service.BillingService
	log *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(svc service.BillingService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		svc: svc,
		log: log,
	}
}

// CreateSubscription создает новую подписку
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	body, ok := req.HandleBody[domain.SubscriptionRequest](c, h.log.Zap())
	if !ok {
		return
	}

	sub, err := h.svc.SubmitSubscription(c.Request.Context(), *body)
	if err != nil {
		respondError(c, h.log, err, "create subscription")
		return
	}

	res.JSON(c, http.StatusCreated, sub)
}

// GetSubscriptions возвращает все подписки
func (h *SubscriptionHandler) GetSubscriptions(c *gin.Context) {
	res.JSON(c, http.StatusOK, h.svc.ListSubscriptions(c.Request.Context()))
}

// GetSubscription возвращает подписку по ID
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	sub, err := h.svc.GetSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "get subscription")
		return
	}

	res.JSON(c, http.StatusOK, sub)
}

// PauseSubscription приостанавливает подписку
func (h *SubscriptionHandler) PauseSubscription(c *gin.Context) {
	h.changeStatus(c, "pause subscription", h.svc.PauseSubscription)
}

// ResumeSubscription возобновляет подписку
func (h *SubscriptionHandler) ResumeSubscription(c *gin.Context) {
	h.changeStatus(c, "resume subscription", h.svc.ResumeSubscription)
}

// CancelSubscription отменяет подписку
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	h.changeStatus(c, "cancel subscription", h.svc.CancelSubscription)
}

func (h *SubscriptionHandler) changeStatus(c *gin.Context, action string, fn func(context.Context, string) (domain.Subscription, error)) {
	sub, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, action)
		return
	}

	res.JSON(c, http.StatusOK, sub)
}
