// Package mail отправляет письма через SendGrid.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
)

// ErrPermanent - провайдер отклонил письмо, повторная отправка не поможет.
var ErrPermanent = errors.New("mail: permanent rejection")

// SendFunc отправляет подготовленное письмо и возвращает HTTP-статус ответа.
type SendFunc func(ctx context.Context, m *sgmail.SGMailV3) (status int, body string, err error)

// Message - письмо одному получателю.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Client - отправитель писем.
type Client struct {
	send SendFunc
	from *sgmail.Email
}

// New создает клиента SendGrid.
func New(cfg config.SendGrid) *Client {
	sg := sendgrid.NewSendClient(cfg.APIKey)
	return NewWithSendFunc(func(ctx context.Context, m *sgmail.SGMailV3) (int, string, error) {
		resp, err := sg.SendWithContext(ctx, m)
		if err != nil {
			return 0, "", err
		}
		return resp.StatusCode, resp.Body, nil
	}, cfg.FromEmail, cfg.FromName)
}

// NewWithSendFunc создает клиента с произвольной функцией отправки.
func NewWithSendFunc(send SendFunc, fromEmail, fromName string) *Client {
	return &Client{send: send, from: sgmail.NewEmail(fromName, fromEmail)}
}

// Send отправляет письмо. Ответы 4xx, кроме 429, оборачивают ErrPermanent.
func (c *Client) Send(ctx context.Context, msg Message) error {
	const op = "mail.Send"
	if msg.ToEmail == "" {
		return fmt.Errorf("%s: %w: empty recipient", op, ErrPermanent)
	}
	html := msg.HTML
	if html == "" {
		html = msg.Text
	}
	m := sgmail.NewSingleEmail(c.from, msg.Subject, sgmail.NewEmail(msg.ToName, msg.ToEmail), msg.Text, html)

	status, body, err := c.send(ctx, m)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w: sendgrid responded %d: %s", op, ErrPermanent, status, body)
	}
	if status >= 300 {
		return fmt.Errorf("%s: sendgrid responded %d: %s", op, status, body)
	}
	return nil
}
