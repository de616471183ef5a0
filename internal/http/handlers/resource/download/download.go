// Package download учитывает скачивание резюме с проверкой квоты.
package download

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/quota"
)

// Tracker учитывает скачивания.
type Tracker interface {
	TrackDownload(ctx context.Context, userID, resourceID string) (quota.DownloadResult, error)
}

// Handler обрабатывает POST /resource/{id}/download.
type Handler struct {
	log     *slog.Logger
	tracker Tracker
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, tracker Tracker) *Handler {
	return &Handler{log: log, tracker: tracker}
}

// ServeHTTP godoc
// @Summary Учесть скачивание
// @Description Премиум-пользователи скачивают без ограничений, бесплатным доступно одно скачивание
// @Tags Resources
// @Produce  json
// @Param id path string true "Идентификатор резюме"
// @Success 200 {object} quota.DownloadResult
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 403 {object} response.ErrorResponse "Бесплатное скачивание израсходовано"
// @Failure 404 {object} response.ErrorResponse "Резюме не найдено"
// @Failure 429 {object} response.ErrorResponse "Превышен лимит запросов"
// @Router /resource/{id}/download [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.resource.download"
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
	resourceID := chi.URLParam(r, "id")
	if resourceID == "" {
		response.FromError(w, r, apperr.NotFound("resource not found"))
		return
	}

	res, err := h.tracker.TrackDownload(r.Context(), userID, resourceID)
	if err != nil {
		if !apperr.IsKind(err, apperr.KindNotFound) {
			log.Error("failed to track download", slog.String("user_id", userID), sl.Err(err))
		}
		response.FromError(w, r, err)
		return
	}
	if !res.Allowed {
		log.Info("download denied", slog.String("user_id", userID), slog.String("resource_id", resourceID))
		response.FromError(w, r, apperr.Denied(apperr.CodeQuotaExhausted, res.Message))
		return
	}

	render.JSON(w, r, res)
}
