// Package enhance улучшает фрагмент резюме с помощью AI. Доступно только
// премиум-пользователям, проверка выполняется middleware.
package enhance

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
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ai"
)

// Request - фрагмент для улучшения.
type Request struct {
	Text     string `json:"text" validate:"required,max=5000" example:"Led migration to Kubernetes"`
	Context  string `json:"context" validate:"omitempty,oneof=achievement summary project responsibility differentiators" example:"achievement"`
	Language string `json:"language" validate:"omitempty,oneof=en es" example:"en"`
	JobTitle string `json:"jobTitle" validate:"max=200"`
}

// Response - улучшенный текст.
type Response struct {
	Text string `json:"text"`
}

// Enhancer улучшает текст.
type Enhancer interface {
	Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error)
}

// Handler обрабатывает POST /ai/enhance.
type Handler struct {
	log      *slog.Logger
	enhancer Enhancer
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, enhancer Enhancer) *Handler {
	return &Handler{log: log, enhancer: enhancer, validate: validator.New()}
}

// ServeHTTP godoc
// @Summary Улучшить текст
// @Description Переписывает фрагмент резюме. Только для премиум-подписки
// @Tags AI
// @Accept  json
// @Produce  json
// @Param request body Request true "Текст и контекст"
// @Success 200 {object} Response
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "premium_required или subscription_expired"
// @Failure 429 {object} response.ErrorResponse "Превышен лимит запросов"
// @Failure 500 {object} response.ErrorResponse "Ошибка AI-провайдера"
// @Router /ai/enhance [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.ai.enhance"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	text, err := h.enhancer.Enhance(r.Context(), ai.EnhanceRequest{
		Context:  req.Context,
		Text:     req.Text,
		Language: req.Language,
		JobTitle: req.JobTitle,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	render.JSON(w, r, Response{Text: text})
}
