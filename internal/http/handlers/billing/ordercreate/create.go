// Package ordercreate обрабатывает создание заказа на премиум-подписку.
package ordercreate

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

// Request - тело запроса на создание заказа.
type Request struct {
	PlanType string `json:"planType" validate:"required" example:"monthly"`
}

// Service создает заказ у платежного шлюза.
type Service interface {
	CreateOrder(ctx context.Context, userID, planType string) (billing.OrderResult, error)
}

// Handler обрабатывает POST /billing/order.
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
// @Summary Создать заказ
// @Description Создает заказ в платежном шлюзе и возвращает ссылку на подтверждение оплаты
// @Tags Billing
// @Accept  json
// @Produce  json
// @Param request body Request true "Тип плана"
// @Success 200 {object} billing.OrderResult
// @Failure 400 {object} response.ErrorResponse "Неизвестный план или активная подписка"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 429 {object} response.ErrorResponse "Превышен лимит запросов"
// @Failure 500 {object} response.ErrorResponse "Ошибка шлюза"
// @Router /billing/order [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.ordercreate"
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

	res, err := h.service.CreateOrder(r.Context(), userID, req.PlanType)
	if err != nil {
		log.Info("order not created", slog.String("user_id", userID), sl.Err(err))
		response.FromError(w, r, err)
		return
	}

	log.Info("order created", slog.String("user_id", userID), slog.String("order_id", res.OrderID))
	render.JSON(w, r, res)
}
