// Package generate генерирует резюме с учетом квоты пользователя.
package generate

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
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ai"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/quota"
)

// Request - данные для генерации.
type Request struct {
	JobTitle   string   `json:"jobTitle" validate:"required,max=200" example:"Backend Engineer"`
	Experience string   `json:"experience" validate:"max=10000"`
	Skills     []string `json:"skills" validate:"max=50"`
	Language   string   `json:"language" validate:"omitempty,oneof=en es" example:"en"`
}

// Response - сгенерированное резюме и состояние квоты.
type Response struct {
	ResumeID string `json:"resumeId,omitempty"`
	Content  string `json:"content"`
	quota.ResumeUsage
}

// Quota проверяет и списывает квоту генерации.
type Quota interface {
	CheckResumeGeneration(u *models.User, st entitlement.Status) error
	ConsumeResumeGeneration(ctx context.Context, u *models.User, st entitlement.Status) (quota.ResumeUsage, error)
}

// Generator пишет текст резюме.
type Generator interface {
	GenerateResume(ctx context.Context, in ai.ResumeInput) (string, error)
}

// Store сохраняет сгенерированное резюме.
type Store interface {
	Create(ctx context.Context, userID, title, content string) (models.Resume, error)
}

// Handler обрабатывает POST /resumes/generate.
type Handler struct {
	log      *slog.Logger
	quota    Quota
	gen      Generator
	store    Store
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, q Quota, gen Generator, store Store) *Handler {
	return &Handler{
		log:      log,
		quota:    q,
		gen:      gen,
		store:    store,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Сгенерировать резюме
// @Description Бесплатным пользователям доступно одно резюме, премиум ограничен месячным лимитом
// @Tags Resumes
// @Accept  json
// @Produce  json
// @Param request body Request true "Должность, опыт и навыки"
// @Success 200 {object} Response
// @Failure 400 {object} response.ErrorResponse "Некорректный запрос"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Квота израсходована"
// @Failure 429 {object} response.ErrorResponse "Превышен лимит запросов"
// @Failure 500 {object} response.ErrorResponse "Ошибка AI-провайдера"
// @Router /resumes/generate [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.resume.generate"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	u, st, ok := middlewarectx.EntitlementFrom(r.Context())
	if !ok {
		log.Error("entitlement not found in context")
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

	if err := h.quota.CheckResumeGeneration(u, st); err != nil {
		log.Info("resume generation denied", slog.String("user_id", u.ID), sl.Err(err))
		response.FromError(w, r, err)
		return
	}

	content, err := h.gen.GenerateResume(r.Context(), ai.ResumeInput{
		JobTitle:   req.JobTitle,
		Experience: req.Experience,
		Skills:     req.Skills,
		Language:   req.Language,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}

	usage, err := h.quota.ConsumeResumeGeneration(r.Context(), u, st)
	if err != nil {
		log.Info("resume quota consumed concurrently, discarding result", slog.String("user_id", u.ID), sl.Err(err))
		response.FromError(w, r, err)
		return
	}

	resp := Response{Content: content, ResumeUsage: usage}
	saved, err := h.store.Create(r.Context(), u.ID, req.JobTitle, content)
	if err != nil {
		log.Error("failed to save generated resume", slog.String("user_id", u.ID), sl.Err(err))
	} else {
		resp.ResumeID = saved.ID
	}

	log.Info("resume generated", slog.String("user_id", u.ID), slog.Bool("premium", st.IsPremium))
	render.JSON(w, r, resp)
}
