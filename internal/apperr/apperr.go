// Package apperr содержит таксономию ошибок сервиса. Каждый вид ошибки
// однозначно отображается в HTTP-статус, а машиночитаемый код позволяет
// клиенту различать, например, "никогда не было доступа" и "подписка истекла".
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind - вид ошибки.
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindNotFound
	KindEntitlementDenied
	KindRateLimited
	KindValidation
	KindIntegrity
	KindTransient
	KindGateway
)

// Машиночитаемые коды ответов.
const (
	CodePremiumRequired     = "premium_required"
	CodeSubscriptionExpired = "subscription_expired"
	CodeQuotaExhausted      = "quota_exhausted"
	CodeMonthlyLimitReached = "monthly_limit_reached"
	CodeRateLimited         = "rate_limited"
	CodeInvalidPlan         = "invalid_plan"
	CodeAlreadySubscribed   = "already_subscribed"
	CodeInvalidOrder        = "invalid_order"
	CodeInvalidRequest      = "invalid_request"
	CodeOrderNotApproved    = "order_not_approved"
	CodeCaptureNotCompleted = "capture_not_completed"
	CodeAmountMismatch      = "amount_mismatch"
	CodeUserMismatch        = "user_mismatch"
	CodeCaptureUnknown      = "capture_outcome_unknown"
)

// Error - ошибка приложения.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	ResetAt   time.Time // только для KindRateLimited
	Retryable bool
	Err       error
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap возвращает исходную ошибку
func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthenticated - запрос без идентификации пользователя.
func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// NotFound - пользователь или ресурс отсутствует.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Denied - у пользователя нет права на действие.
func Denied(code, msg string) *Error {
	return &Error{Kind: KindEntitlementDenied, Code: code, Message: msg}
}

// RateLimited - превышен лимит запросов до resetAt.
func RateLimited(resetAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Code:    CodeRateLimited,
		Message: "too many requests, please try again later",
		ResetAt: resetAt,
	}
}

// Validation - некорректный ввод или состояние заказа.
func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// Integrity - нарушение целостности (чужой заказ).
func Integrity(code, msg string) *Error {
	return &Error{Kind: KindIntegrity, Code: code, Message: msg}
}

// Transient - временная ошибка хранилища.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Retryable: true, Err: err}
}

// Gateway - ошибка внешнего платежного шлюза или AI-провайдера.
func Gateway(msg string, err error) *Error {
	return &Error{Kind: KindGateway, Message: msg, Err: err}
}

// OutcomeUnknown - шлюз не ответил вовремя, операция могла выполниться.
// Клиенту следует повторить запрос.
func OutcomeUnknown(msg string, err error) *Error {
	return &Error{Kind: KindGateway, Code: CodeCaptureUnknown, Message: msg, Retryable: true, Err: err}
}

// As извлекает *Error из цепочки.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind сообщает, относится ли ошибка к виду k.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

// HTTPStatus возвращает HTTP-статус для ошибки.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindEntitlementDenied, KindIntegrity:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage возвращает сообщение, которое можно показать клиенту.
// Внутренние ошибки не раскрывают деталей.
func PublicMessage(err error) string {
	e, ok := As(err)
	if !ok {
		return "internal error, please try again"
	}
	switch e.Kind {
	case KindInternal, KindTransient, KindGateway:
		if e.Code == "" {
			return "internal error, please try again"
		}
	}
	return e.Message
}
