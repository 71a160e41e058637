// Command mailer delivers activation messages queued by the portal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/logging"
	"github.com/Lapin-Blanc/electruc-portal/internal/mq"
	"github.com/Lapin-Blanc/electruc-portal/internal/notify"
)

func main() {
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.Load,
			logging.NewLogger,
			provideConnection,
			provideSender,
		),
		fx.Invoke(startConsumer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
}

func provideConnection(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*mq.Connection, error) {
	if cfg.RabbitMQ.URL == "" {
		return nil, errors.New("RABBITMQ_URL must be set")
	}
	return mq.NewConnection(lc, log, cfg.RabbitMQ.URL)
}

func provideSender(cfg *config.Config) (notify.Notifier, error) {
	if cfg.Mail.Host == "" {
		return nil, errors.New("SMTP_HOST must be set")
	}
	return notify.NewSMTPNotifier(cfg.Mail), nil
}

func deliver(sender notify.Notifier, log *zap.Logger) mq.MessageHandler {
	return func(ctx context.Context, body []byte) error {
		var msg notify.ActivationMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("decode activation message: %w", err)
		}
		if err := sender.SendActivation(ctx, msg); err != nil {
			return err
		}
		log.Info("activation mail delivered", zap.String("to", msg.To))
		return nil
	}
}

func startConsumer(lc fx.Lifecycle, conn *mq.Connection, sender notify.Notifier, cfg *config.Config, log *zap.Logger) error {
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.Queue,
		Exchange:      cfg.RabbitMQ.Exchange,
		RoutingKey:    cfg.RabbitMQ.RoutingKey,
		PrefetchCount: cfg.RabbitMQ.Prefetch,
		Logger:        log,
		Handler:       deliver(sender, log),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return consumer.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return consumer.Close()
		},
	})
	return nil
}
