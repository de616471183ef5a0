// Package sender собирает воркер уведомлений: очередь RabbitMQ и отправку писем.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/mail"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	senderservice "github.com/magabrotheeeer/resume-entitlement/internal/services/sender"
)

// App - воркер уведомлений.
type App struct {
	conn          *amqp.Connection
	ch            *amqp.Channel
	senderService *senderservice.SenderService
	logger        *slog.Logger
}

// New подключается к брокеру и объявляет очереди.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.sender.New"
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		conn:          conn,
		ch:            ch,
		senderService: senderservice.NewSenderService(mail.New(cfg.SendGrid), logger),
		logger:        logger,
	}, nil
}

// Run потребляет очередь до отмены контекста.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.logger, a.ch, rabbitmq.QueuePremium, a.senderService.SendPremiumActivated)
	if err != nil {
		a.logger.Error("failed to start consumer", slog.String("queue", rabbitmq.QueuePremium), sl.Err(err))
		return err
	}
	a.logger.Info("notification sender started", slog.String("queue", rabbitmq.QueuePremium))

	<-ctx.Done()
	a.logger.Info("Sender service shutting down gracefully")

	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	return nil
}
