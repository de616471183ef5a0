package ordercreate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/http/middlewarectx"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/billing"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) CreateOrder(ctx context.Context, userID, planType string) (billing.OrderResult, error) {
	args := m.Called(ctx, userID, planType)
	return args.Get(0).(billing.OrderResult), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestOrderCreateHandler_ServeHTTP(t *testing.T) {
	resetAt := time.Now().Add(5 * time.Minute).Truncate(time.Second)

	tests := []struct {
		name           string
		body           string
		userID         string
		setupMocks     func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "success",
			body:   `{"planType":"monthly"}`,
			userID: "u1",
			setupMocks: func(s *MockService) {
				s.On("CreateOrder", mock.Anything, "u1", "monthly").Return(billing.OrderResult{
					OrderID:     "5O190127TN364715T",
					ApprovalURL: "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T",
					Status:      "CREATED",
				}, nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"orderId":"5O190127TN364715T","approvalUrl":"https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T","status":"CREATED"}`,
		},
		{
			name:           "invalid JSON",
			body:           "not a json",
			userID:         "u1",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid request body","code":"invalid_request"}`,
		},
		{
			name:           "missing plan type",
			body:           `{}`,
			userID:         "u1",
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"field PlanType is a required field","code":"invalid_request"}`,
		},
		{
			name:           "missing user",
			body:           `{"planType":"monthly"}`,
			setupMocks:     func(*MockService) {},
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"status":"Error","error":"unauthorized"}`,
		},
		{
			name:   "unknown plan",
			body:   `{"planType":"weekly"}`,
			userID: "u1",
			setupMocks: func(s *MockService) {
				s.On("CreateOrder", mock.Anything, "u1", "weekly").
					Return(billing.OrderResult{}, apperr.Validation(apperr.CodeInvalidPlan, "invalid plan type")).Once()
			},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"invalid plan type","code":"invalid_plan"}`,
		},
		{
			name:   "rate limited",
			body:   `{"planType":"monthly"}`,
			userID: "u1",
			setupMocks: func(s *MockService) {
				s.On("CreateOrder", mock.Anything, "u1", "monthly").
					Return(billing.OrderResult{}, apperr.RateLimited(resetAt)).Once()
			},
			expectedStatus: http.StatusTooManyRequests,
			expectedBody: `{"status":"Error","error":"too many requests, please try again later","code":"rate_limited","resetAt":"` +
				resetAt.UTC().Format(time.RFC3339) + `"}`,
		},
		{
			name:   "gateway error",
			body:   `{"planType":"monthly"}`,
			userID: "u1",
			setupMocks: func(s *MockService) {
				s.On("CreateOrder", mock.Anything, "u1", "monthly").
					Return(billing.OrderResult{}, apperr.Gateway("failed to create order", errors.New("502"))).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"internal error, please try again"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setupMocks(svc)
			handler := New(newNoopLogger(), svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/order", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			ctx := context.WithValue(req.Context(), middlewarectx.UserID, tt.userID)
			ctx = context.WithValue(ctx, middleware.RequestIDKey, "req-id")
			req = req.WithContext(ctx)

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			svc.AssertExpectations(t)
		})
	}
}
