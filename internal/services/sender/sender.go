// Package sender отправляет письма по событиям из очереди уведомлений.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/resume-entitlement/internal/lib/mail"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
)

const sendTimeout = 10 * time.Second

// Mailer отправляет одно письмо.
type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

// SenderService формирует и отправляет письма.
type SenderService struct {
	mailer Mailer
	log    *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService.
func NewSenderService(mailer Mailer, log *slog.Logger) *SenderService {
	return &SenderService{
		mailer: mailer,
		log:    log,
	}
}

// SendPremiumActivated обрабатывает сообщение models.PremiumActivated.
// Битые сообщения, сообщения без адреса и письма, окончательно отклоненные
// провайдером, подтверждаются и отбрасываются. Временная ошибка отправки
// возвращает сообщение в очередь.
func (s *SenderService) SendPremiumActivated(body []byte) error {
	const op = "sender.SendPremiumActivated"
	log := s.log.With(slog.String("op", op))

	var msg models.PremiumActivated
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error("failed to unmarshal message body, dropping", sl.Err(err))
		metrics.NotificationsSent.WithLabelValues("premium", "dropped").Inc()
		return nil
	}
	if msg.Email == "" {
		log.Warn("premium notification without email, dropping", slog.String("user_id", msg.UserID))
		metrics.NotificationsSent.WithLabelValues("premium", "dropped").Inc()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := s.mailer.Send(ctx, premiumEmail(msg))
	if errors.Is(err, mail.ErrPermanent) {
		log.Warn("premium confirmation rejected by provider, dropping",
			slog.String("user_id", msg.UserID), sl.Err(err))
		metrics.NotificationsSent.WithLabelValues("premium", "dropped").Inc()
		return nil
	}
	if err != nil {
		log.Error("failed to send premium confirmation",
			slog.String("user_id", msg.UserID), sl.Err(err))
		metrics.NotificationsSent.WithLabelValues("premium", "failed").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("premium confirmation sent",
		slog.String("user_id", msg.UserID),
		slog.String("transaction_id", msg.TransactionID))
	metrics.NotificationsSent.WithLabelValues("premium", "sent").Inc()
	return nil
}

func premiumEmail(msg models.PremiumActivated) mail.Message {
	name := msg.Name
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("Hi %s,\n\n"+
		"Your Premium %s plan is now active.\n"+
		"Amount charged: %s %s\n"+
		"Transaction ID: %s\n"+
		"Valid until: %s\n\n"+
		"Thank you for upgrading!",
		name, msg.PlanType, msg.Amount, msg.Currency, msg.TransactionID,
		msg.ExpiresAt.UTC().Format("January 2, 2006"))
	return mail.Message{
		ToEmail: msg.Email,
		ToName:  msg.Name,
		Subject: "Welcome to Premium!",
		Text:    text,
	}
}
