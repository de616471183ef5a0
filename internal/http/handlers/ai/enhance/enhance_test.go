package enhance

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ai"
)

type MockEnhancer struct {
	mock.Mock
}

func (m *MockEnhancer) Enhance(ctx context.Context, req ai.EnhanceRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestEnhanceHandler_ServeHTTP(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMocks     func(*MockEnhancer)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "enhanced",
			body: `{"text":"did k8s","context":"achievement","language":"en"}`,
			setupMocks: func(m *MockEnhancer) {
				m.On("Enhance", mock.Anything, ai.EnhanceRequest{Text: "did k8s", Context: "achievement", Language: "en"}).
					Return("Migrated 40 services to Kubernetes", nil).Once()
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"text":"Migrated 40 services to Kubernetes"}`,
		},
		{
			name:           "empty text",
			body:           `{"text":""}`,
			setupMocks:     func(*MockEnhancer) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"field Text is a required field","code":"invalid_request"}`,
		},
		{
			name:           "unsupported language",
			body:           `{"text":"x","language":"de"}`,
			setupMocks:     func(*MockEnhancer) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"status":"Error","error":"field Language must be one of: en es","code":"invalid_request"}`,
		},
		{
			name: "provider down",
			body: `{"text":"x"}`,
			setupMocks: func(m *MockEnhancer) {
				m.On("Enhance", mock.Anything, mock.Anything).Return("", apperr.Gateway("AI provider unavailable", errors.New("503"))).Once()
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"internal error, please try again"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enh := new(MockEnhancer)
			tt.setupMocks(enh)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/ai/enhance", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()
			New(newNoopLogger(), enh).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			enh.AssertExpectations(t)
		})
	}
}
