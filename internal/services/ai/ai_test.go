package ai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func TestEnhance(t *testing.T) {
	tests := []struct {
		name       string
		req        EnhanceRequest
		setupMocks func(*MockGenerator)
		want       string
		wantKind   apperr.Kind
		wantErr    bool
	}{
		{
			name: "achievement in spanish",
			req:  EnhanceRequest{Context: ContextAchievement, Text: "  led a team ", Language: "es", JobTitle: "CTO"},
			setupMocks: func(m *MockGenerator) {
				m.On("Generate", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
					return strings.Contains(p, "Language: Spanish") &&
						strings.Contains(p, "Job title: CTO") &&
						strings.Contains(p, `"led a team"`) &&
						strings.Contains(p, "quantifiable metrics")
				})).Return("Lideré un equipo de 8 ingenieros", nil).Once()
			},
			want: "Lideré un equipo de 8 ingenieros",
		},
		{
			name: "default context strips fences",
			req:  EnhanceRequest{Text: "backend developer"},
			setupMocks: func(m *MockGenerator) {
				m.On("Generate", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
					return strings.Contains(p, "Context: summary") && strings.Contains(p, "Language: English")
				})).Return("```\nSeasoned backend developer\n```", nil).Once()
			},
			want: "Seasoned backend developer",
		},
		{
			name:       "empty text",
			req:        EnhanceRequest{Text: "   "},
			setupMocks: func(*MockGenerator) {},
			wantErr:    true,
			wantKind:   apperr.KindValidation,
		},
		{
			name:       "unknown context",
			req:        EnhanceRequest{Context: "poem", Text: "x"},
			setupMocks: func(*MockGenerator) {},
			wantErr:    true,
			wantKind:   apperr.KindValidation,
		},
		{
			name:       "unknown language",
			req:        EnhanceRequest{Text: "x", Language: "fr"},
			setupMocks: func(*MockGenerator) {},
			wantErr:    true,
			wantKind:   apperr.KindValidation,
		},
		{
			name: "provider failure",
			req:  EnhanceRequest{Text: "x"},
			setupMocks: func(m *MockGenerator) {
				m.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503")).Once()
			},
			wantErr:  true,
			wantKind: apperr.KindGateway,
		},
		{
			name: "empty provider answer",
			req:  EnhanceRequest{Text: "x"},
			setupMocks: func(m *MockGenerator) {
				m.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("```", nil).Once()
			},
			wantErr:  true,
			wantKind: apperr.KindGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(MockGenerator)
			tt.setupMocks(gen)

			got, err := New(gen, newNoopLogger()).Enhance(context.Background(), tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, tt.wantKind))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			gen.AssertExpectations(t)
		})
	}
}

func TestGenerateResume(t *testing.T) {
	gen := new(MockGenerator)
	gen.On("Generate", mock.Anything, systemPrompt, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, `"Go Developer"`) &&
			strings.Contains(p, "5 years at Acme") &&
			strings.Contains(p, "Key skills: Go, PostgreSQL")
	})).Return("SUMMARY\nGo developer", nil).Once()

	out, err := New(gen, newNoopLogger()).GenerateResume(context.Background(), ResumeInput{
		JobTitle:   "Go Developer",
		Experience: "5 years at Acme",
		Skills:     []string{"Go", "PostgreSQL"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SUMMARY\nGo developer", out)
	gen.AssertExpectations(t)

	_, err = New(gen, newNoopLogger()).GenerateResume(context.Background(), ResumeInput{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
