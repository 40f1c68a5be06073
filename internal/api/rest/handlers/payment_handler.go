package handlers

import (
	"net/http"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/service"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/Dhoini/billing-scheduler/pkg/req"
	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
)

// PaymentHandler обработчик разовых платежей и журнала транзакций
type PaymentHandler struct {
	svc service.BillingService
	log *logger.Logger
}

// NewPaymentHandler создает новый обработчик платежей
func NewPaymentHandler(svc service.BillingService, log *logger.Logger) *PaymentHandler {
	return &PaymentHandler{
		svc: svc,
		log: log,
	}
}

// CreatePayment планирует разовый платеж
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	body, ok := req.HandleBody[domain.OneTimePaymentRequest](c, h.log.Zap())
	if !ok {
		return
	}

	txn, err := h.svc.SubmitOneTimePayment(c.Request.Context(), *body)
	if err != nil {
		respondError(c, h.log, err, "create payment")
		return
	}

	res.JSON(c, http.StatusCreated, txn)
}

// GetTransactions возвращает журнал транзакций, новые первыми.
// Поддерживает фильтры ?status= и ?subscription_id=.
func (h *PaymentHandler) GetTransactions(c *gin.Context) {
	filter := domain.TransactionFilter{
		Status:         domain.TransactionStatus(c.Query("status")),
		SubscriptionID: c.Query("subscription_id"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		res.Error(c, http.StatusBadRequest, "unknown transaction status: "+string(filter.Status), nil)
		return
	}

	res.JSON(c, http.StatusOK, h.svc.ListTransactions(c.Request.Context(), filter))
}

// GetTransaction возвращает транзакцию по ID
func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	txn, err := h.svc.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err, "get transaction")
		return
	}

	res.JSON(c, http.StatusOK, txn)
}
