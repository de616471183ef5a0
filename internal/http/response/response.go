// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок приложения и сообщений валидации в едином формате.
package response

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status - статус запроса ("OK" или "Error").
// Поле Error - текст ошибки (опционально, при неуспехе).
// Поле Data - данные ответа (опционально, при успехе).
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse - тело ответа с ошибкой.
// Code - машиночитаемый код (premium_required, rate_limited и т.д.),
// ResetAt - момент сброса лимита для 429.
type ErrorResponse struct {
	Status  string     `json:"status" example:"Error"`
	Error   string     `json:"error" example:"invalid request body"`
	Code    string     `json:"code,omitempty" example:"premium_required"`
	ResetAt *time.Time `json:"resetAt,omitempty"`
}

const (
	// StatusOK - значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError - значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// Error возвращает ErrorResponse с переданным сообщением.
func Error(msg string) ErrorResponse {
	return ErrorResponse{
		Status: StatusError,
		Error:  msg,
	}
}

// FromError пишет ответ для ошибки приложения: HTTP-статус по виду ошибки,
// код и, для превышения лимита, заголовок Retry-After.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorResponse{Status: StatusError, Error: apperr.PublicMessage(err)}
	if e, ok := apperr.As(err); ok {
		body.Code = e.Code
		if e.Kind == apperr.KindRateLimited && !e.ResetAt.IsZero() {
			reset := e.ResetAt.UTC()
			body.ResetAt = &reset
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter(e.ResetAt)))
		}
	}
	render.Status(r, apperr.HTTPStatus(err))
	render.JSON(w, r, body)
}

func retryAfter(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ValidationError формирует ErrorResponse на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) ErrorResponse {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "alphanum":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers and letters", err.Field()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is too long", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return ErrorResponse{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
		Code:   apperr.CodeInvalidRequest,
	}
}
