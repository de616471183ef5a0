// Package gemini - клиент Google Gemini для генерации текста.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
)

// Client генерирует текст по промпту.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// New создает клиента Gemini API.
func New(ctx context.Context, cfg config.Gemini) (*Client, error) {
	const op = "gemini.New"
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", op, errors.New("API key is required"))
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{client: client, model: model, timeout: cfg.Timeout}, nil
}

// Generate отправляет системную инструкцию и промпт, возвращает текст ответа.
func (c *Client) Generate(ctx context.Context, system, prompt string) (string, error) {
	const op = "gemini.Generate"
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%s: %w", op, errors.New("empty response"))
	}
	return text, nil
}
