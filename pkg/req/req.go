package req

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/Dhoini/billing-scheduler/pkg/res"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// в ошибках используем имена полей из json тегов
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Decode декодирует JSON из io.Reader в структуру типа T.
func Decode[T any](body io.Reader) (T, error) {
	var payload T
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// IsValid валидирует структуру типа T по тегам validate.
// Ошибка, если есть, имеет тип validator.ValidationErrors.
func IsValid[T any](payload T) error {
	return validatorInstance().Struct(payload)
}

// HandleBody декодирует тело запроса gin. При ошибке сам отвечает клиенту 400.
func HandleBody[T any](c *gin.Context, log *zap.Logger) (*T, bool) {
	body, err := Decode[T](c.Request.Body)
	if err != nil {
		log.Warn("Failed to decode request body", zap.Error(err))
		res.Error(c, http.StatusBadRequest, "malformed request body", nil)
		return nil, false
	}
	return &body, true
}
