package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/billing-scheduler/internal/domain"
	"github.com/Dhoini/billing-scheduler/internal/scheduler"
	"github.com/Dhoini/billing-scheduler/pkg/logger"
	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
)

// respondError переводит ошибку сервиса в HTTP ответ
func respondError(c *gin.Context, log *logger.Logger, err error, action string) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		res.Error(c, http.StatusBadRequest, "validation failed", verrs)
	case errors.Is(err, domain.ErrInvalidInput):
		res.Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		res.Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicate):
		res.Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidOperation):
		res.Error(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, scheduler.ErrBatchInProgress):
		res.Error(c, http.StatusConflict, err.Error(), nil)
	default:
		log.Errorw("Failed to "+action, "error", err)
		res.Error(c, http.StatusInternalServerError, "Failed to "+action, nil)
	}
}
