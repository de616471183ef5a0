package status

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestStatusHandler_ServeHTTP(t *testing.T) {
	now := time.Date(2030, 3, 10, 12, 0, 0, 0, time.UTC)
	exp := now.Add(36 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name         string
		user         *models.User
		expectedBody string
	}{
		{
			name: "active premium",
			user: &models.User{ID: "u1", Email: "a@b.c", IsPremium: true, PlanType: "monthly", SubscriptionExpiration: &exp, TotalDownloads: 3},
			expectedBody: `{"userId":"u1","email":"a@b.c","isPremium":true,"isExpired":false,"planType":"monthly",` +
				`"expiresAt":"2030-03-12T00:00:00Z","daysRemaining":2,"freeDownloadUsed":false,"freeResumeUsed":false,` +
				`"totalDownloads":3,"resumesGenerated":0}`,
		},
		{
			name: "free user with used quota",
			user: &models.User{ID: "u2", FreeDownloadUsed: true, FreeResumeUsed: true, TotalDownloads: 1, ResumesGenerated: 1},
			expectedBody: `{"userId":"u2","isPremium":false,"isExpired":false,"freeDownloadUsed":true,"freeResumeUsed":true,` +
				`"totalDownloads":1,"resumesGenerated":1}`,
		},
		{
			name: "downgraded user hides plan",
			user: &models.User{ID: "u3", PlanType: "yearly", SubscriptionExpiration: &past},
			expectedBody: `{"userId":"u3","isPremium":false,"isExpired":false,"expiresAt":"2030-03-10T11:00:00Z",` +
				`"freeDownloadUsed":false,"freeResumeUsed":false,"totalDownloads":0,"resumesGenerated":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me/entitlement", nil)
			req = req.WithContext(middlewarectx.WithEntitlement(req.Context(), tt.user, entitlement.CheckStatus(tt.user, now)))
			w := httptest.NewRecorder()

			New(newNoopLogger()).ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestStatusHandler_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	New(newNoopLogger()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
