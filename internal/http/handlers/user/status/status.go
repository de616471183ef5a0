// Package status отдает текущие права пользователя.
package status

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/response"
)

// Response - права пользователя.
type Response struct {
	UserID           string     `json:"userId"`
	Email            string     `json:"email,omitempty"`
	IsPremium        bool       `json:"isPremium"`
	IsExpired        bool       `json:"isExpired"`
	PlanType         string     `json:"planType,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining    *int       `json:"daysRemaining,omitempty"`
	FreeDownloadUsed bool       `json:"freeDownloadUsed"`
	FreeResumeUsed   bool       `json:"freeResumeUsed"`
	TotalDownloads   int64      `json:"totalDownloads"`
	ResumesGenerated int64      `json:"resumesGenerated"`
}

// Handler обрабатывает GET /users/me/entitlement.
type Handler struct {
	log *slog.Logger
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger) *Handler {
	return &Handler{log: log}
}

// ServeHTTP godoc
// @Summary Права пользователя
// @Description Статус подписки, дни до окончания и использование бесплатных квот
// @Tags Users
// @Produce  json
// @Success 200 {object} Response
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Router /users/me/entitlement [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u, st, ok := middlewarectx.EntitlementFrom(r.Context())
	if !ok {
		h.log.Error("entitlement not found in context", slog.String("op", "handlers.user.status"))
		response.FromError(w, r, apperr.Unauthenticated("unauthorized"))
		return
	}
	resp := Response{
		UserID:           u.ID,
		Email:            u.Email,
		IsPremium:        st.IsPremium,
		IsExpired:        st.IsExpired,
		ExpiresAt:        u.SubscriptionExpiration,
		DaysRemaining:    st.DaysRemaining,
		FreeDownloadUsed: u.FreeDownloadUsed,
		FreeResumeUsed:   u.FreeResumeUsed,
		TotalDownloads:   u.TotalDownloads,
		ResumesGenerated: u.ResumesGenerated,
	}
	if st.IsPremium {
		resp.PlanType = u.PlanType
	}
	render.JSON(w, r, resp)
}
