// Package ai формирует промпты для генерации и улучшения текста резюме
// и вызывает модель через Generator.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
)

// Generator - модель генерации текста.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Контексты улучшения текста.
const (
	ContextAchievement     = "achievement"
	ContextSummary         = "summary"
	ContextProject         = "project"
	ContextResponsibility  = "responsibility"
	ContextDifferentiators = "differentiators"
)

var contextInstructions = map[string]string{
	ContextAchievement:     "Enhance this professional achievement to be more impactful and specific. Add quantifiable metrics, strong action verbs and measurable results.",
	ContextSummary:         "Enhance this professional summary to be more compelling and specific. Add relevant keywords and highlight the candidate's unique strengths.",
	ContextProject:         "Enhance this project description to be more detailed and professional. Add technical context, results achieved and technologies used.",
	ContextResponsibility:  "Enhance this responsibility to be more specific and results-oriented. Convert it into an achievement with measurable impact.",
	ContextDifferentiators: "Enhance this differentiator statement to be more compelling. Highlight specialized expertise and what makes this candidate stand out.",
}

const systemPrompt = "You are an expert career coach and resume writer with over 20 years of experience. " +
	"Respond only with the requested text, without explanations or markdown fences."

// EnhanceRequest - запрос на улучшение фрагмента резюме.
type EnhanceRequest struct {
	Context  string
	Text     string
	Language string
	JobTitle string
}

// ResumeInput - данные для генерации резюме.
type ResumeInput struct {
	JobTitle   string
	Experience string
	Skills     []string
	Language   string
}

// Service - AI-сервис резюме.
type Service struct {
	gen Generator
	log *slog.Logger
}

// New создает Service.
func New(gen Generator, log *slog.Logger) *Service {
	return &Service{gen: gen, log: log}
}

// Enhance улучшает фрагмент текста. Пустой контекст означает summary,
// пустой язык - английский.
func (s *Service) Enhance(ctx context.Context, req EnhanceRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", apperr.Validation(apperr.CodeInvalidRequest, "text is required")
	}
	if req.Context == "" {
		req.Context = ContextSummary
	}
	instruction, ok := contextInstructions[req.Context]
	if !ok {
		return "", apperr.Validation(apperr.CodeInvalidRequest, "unsupported context "+req.Context)
	}
	lang, err := language(req.Language)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s\nLanguage: %s\n", req.Context, lang)
	if req.JobTitle != "" {
		fmt.Fprintf(&b, "Job title: %s\n", req.JobTitle)
	}
	fmt.Fprintf(&b, "Original text: %q\n\n%s\n\n", text, instruction)
	b.WriteString("Requirements: keep it to 1-3 lines, use strong action verbs, " +
		"keep the original meaning and do not invent facts that the original does not imply.")

	return s.generate(ctx, "ai.Enhance", b.String())
}

// GenerateResume пишет текст резюме по должности, опыту и навыкам.
func (s *Service) GenerateResume(ctx context.Context, in ResumeInput) (string, error) {
	if strings.TrimSpace(in.JobTitle) == "" {
		return "", apperr.Validation(apperr.CodeInvalidRequest, "jobTitle is required")
	}
	lang, err := language(in.Language)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a complete, ATS-friendly resume in %s for the position %q.\n", lang, in.JobTitle)
	if exp := strings.TrimSpace(in.Experience); exp != "" {
		fmt.Fprintf(&b, "Candidate experience:\n%s\n", exp)
	}
	if len(in.Skills) > 0 {
		fmt.Fprintf(&b, "Key skills: %s\n", strings.Join(in.Skills, ", "))
	}
	b.WriteString("Sections: Summary, Experience, Skills, Education. Use plain text with section headings.")

	return s.generate(ctx, "ai.GenerateResume", b.String())
}

func (s *Service) generate(ctx context.Context, op, prompt string) (string, error) {
	out, err := s.gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		s.log.Error("ai provider failed", slog.String("op", op), sl.Err(err))
		return "", apperr.Gateway("AI provider unavailable", fmt.Errorf("%s: %w", op, err))
	}
	out = cleanResponse(out)
	if out == "" {
		return "", apperr.Gateway("AI provider returned an empty response", fmt.Errorf("%s: empty response", op))
	}
	return out, nil
}

func language(code string) (string, error) {
	switch code {
	case "", "en":
		return "English", nil
	case "es":
		return "Spanish", nil
	default:
		return "", apperr.Validation(apperr.CodeInvalidRequest, `language must be "en" or "es"`)
	}
}

func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
