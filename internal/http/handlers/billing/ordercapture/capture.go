// Package ordercapture обрабатывает подтверждение оплаты заказа.
package ordercapture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/billing"
)

// Request - тело запроса на списание.
type Request struct {
	OrderID string `json:"orderId" validate:"required,max=64" example:"5O190127TN364715T"`
}

// Service списывает оплату и применяет подписку.
type Service interface {
	CaptureOrder(ctx context.Context, orderID, callerID string) (billing.CaptureResult, error)
}

// Handler обрабатывает POST /billing/capture.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Подтвердить оплату
// @Description Списывает оплату по одобренному заказу и активирует премиум. Повторный вызов возвращает duplicate=true
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param request body Request true "Идентификатор заказа"
// @Success 200 {object} billing.CaptureResult
// @Failure 400 {object} response.ErrorResponse "Заказ не одобрен или сумма не совпадает"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Заказ принадлежит другому пользователю"
// @Failure 429 {object} response.ErrorResponse "Превышен лимит запросов"
// @Failure 500 {object} response.ErrorResponse "Ошибка шлюза, запрос можно повторить"
// @Router /billing/capture [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.ordercapture"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFrom(r.Context())
	if !ok {
		log.Error("user id not found in context")
		response.FromError(w, r, apperr.Unauthenticated("unauthorized"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		response.FromError(w, r, apperr.Validation(apperr.CodeInvalidRequest, "invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		response.FromError(w, r, apperr.Validation(apperr.CodeInvalidRequest, "invalid request body"))
		return
	}

	res, err := h.service.CaptureOrder(r.Context(), req.OrderID, userID)
	if err != nil {
		log.Info("capture rejected",
			slog.String("user_id", userID),
			slog.String("order_id", req.OrderID),
			sl.Err(err))
		response.FromError(w, r, err)
		return
	}

	log.Info("capture processed",
		slog.String("user_id", userID),
		slog.String("order_id", req.OrderID),
		slog.Bool("duplicate", res.Duplicate))
	render.JSON(w, r, res)
}
