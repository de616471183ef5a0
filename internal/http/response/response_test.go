package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantBody     string
		wantRetryHdr bool
	}{
		{
			name:       "premium required",
			err:        apperr.Denied(apperr.CodePremiumRequired, "Premium subscription required"),
			wantStatus: http.StatusForbidden,
			wantBody:   `{"status":"Error","error":"Premium subscription required","code":"premium_required"}`,
		},
		{
			name:       "not found",
			err:        apperr.NotFound("user not found"),
			wantStatus: http.StatusNotFound,
			wantBody:   `{"status":"Error","error":"user not found"}`,
		},
		{
			name:       "transient hides details",
			err:        apperr.Transient("failed to read user", errors.New("dial tcp 10.0.0.1:6379")),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"status":"Error","error":"internal error, please try again"}`,
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"status":"Error","error":"internal error, please try again"}`,
		},
		{
			name:       "capture outcome unknown is retryable and explained",
			err:        apperr.OutcomeUnknown("payment confirmation timed out, please retry", errors.New("deadline")),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"status":"Error","error":"payment confirmation timed out, please retry","code":"capture_outcome_unknown"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()

			FromError(w, req, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Empty(t, w.Header().Get("Retry-After"))
		})
	}
}

func TestFromError_RateLimited(t *testing.T) {
	resetAt := time.Now().Add(90 * time.Second).Truncate(time.Second)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()

	FromError(w, req, apperr.RateLimited(resetAt))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	retry := w.Header().Get("Retry-After")
	assert.Contains(t, []string{"88", "89", "90"}, retry)
	assert.Contains(t, w.Body.String(), `"code":"rate_limited"`)
	assert.Contains(t, w.Body.String(), `"resetAt":"`+resetAt.UTC().Format(time.RFC3339))
}

func TestRetryAfter_PastResetIsOneSecond(t *testing.T) {
	assert.Equal(t, 1, retryAfter(time.Now().Add(-time.Minute)))
}

func TestValidationError(t *testing.T) {
	type req struct {
		PlanType string `validate:"required"`
		Language string `validate:"omitempty,oneof=en es"`
	}
	err := validator.New().Struct(req{Language: "fr"})
	require.Error(t, err)

	got := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, apperr.CodeInvalidRequest, got.Code)
	assert.Contains(t, got.Error, "field PlanType is a required field")
	assert.Contains(t, got.Error, "field Language must be one of: en es")
}
