package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/activation"
	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/database"
	"github.com/Lapin-Blanc/electruc-portal/internal/handlers"
	"github.com/Lapin-Blanc/electruc-portal/internal/importer"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/logging"
	"github.com/Lapin-Blanc/electruc-portal/internal/mq"
	"github.com/Lapin-Blanc/electruc-portal/internal/notify"
	"github.com/Lapin-Blanc/electruc-portal/internal/provisioning"
	"github.com/Lapin-Blanc/electruc-portal/internal/registration"
	"github.com/Lapin-Blanc/electruc-portal/internal/routes"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/storage"
	"github.com/Lapin-Blanc/electruc-portal/internal/telemetry"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			config.Load,
			logging.NewLogger,
			provideDatabase,
			provideStorage,
			provideCodec,
			provideLifecycle,
			activation.NewService,
			provideNotifier,
			provideAlerter,
			provideRegistration,
			provideImporter,
			provideHandlers,
			provideApp,
		),
		fx.Invoke(startTelemetry, ensureStaff, startServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
}

func provideDatabase(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	err := database.WithRetry(context.Background(), func() error {
		var err error
		db, err = database.Connect(cfg.DatabaseURL, log)
		return err
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func provideStorage(cfg *config.Config) (*storage.Store, error) {
	return storage.NewOS(cfg.UploadDir)
}

func provideCodec() (*secretcode.Codec, error) {
	return secretcode.New(bcrypt.DefaultCost)
}

func provideLifecycle(db *gorm.DB, codec *secretcode.Codec, cfg *config.Config) *invitation.Lifecycle {
	return invitation.NewLifecycle(db, codec, cfg.Invitation)
}

// provideNotifier prefers the outbox queue, then direct SMTP, then the log.
func provideNotifier(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (notify.Notifier, error) {
	switch {
	case cfg.RabbitMQ.URL != "":
		conn, err := mq.NewConnection(lc, log, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, err
		}
		pub, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return pub.Close() }})
		log.Info("activation mail goes through the outbox", zap.String("exchange", cfg.RabbitMQ.Exchange))
		return notify.NewQueueNotifier(pub, cfg.RabbitMQ.RoutingKey), nil
	case cfg.Mail.Host != "":
		log.Info("activation mail sent over smtp", zap.String("host", cfg.Mail.Host))
		return notify.NewSMTPNotifier(cfg.Mail), nil
	default:
		log.Warn("no mail transport configured, activation links are logged")
		return notify.NewLogNotifier(log), nil
	}
}

func provideAlerter(cfg *config.Config, log *zap.Logger) *notify.TelegramAlerter {
	return notify.NewTelegramAlerter(cfg.TelegramBotToken, cfg.TelegramAdminChat, log)
}

func provideRegistration(
	db *gorm.DB,
	lifecycle *invitation.Lifecycle,
	links *activation.Service,
	notifier notify.Notifier,
	alerter *notify.TelegramAlerter,
	cfg *config.Config,
	log *zap.Logger,
) *registration.Service {
	return registration.NewService(db, lifecycle, provisioning.NewProvisioner(), links, notifier, alerter, cfg, log)
}

func provideImporter(db *gorm.DB, lifecycle *invitation.Lifecycle, log *zap.Logger) *importer.Importer {
	return importer.New(db, lifecycle, log)
}

func provideHandlers(
	db *gorm.DB,
	cfg *config.Config,
	log *zap.Logger,
	store *storage.Store,
	lifecycle *invitation.Lifecycle,
	reg *registration.Service,
	act *activation.Service,
	imp *importer.Importer,
	alerter *notify.TelegramAlerter,
) routes.Handlers {
	return routes.Handlers{
		Auth:   handlers.NewAuthHandler(db, cfg, reg, act, log),
		Client: handlers.NewClientHandler(db, store, log),
		Admin:  handlers.NewAdminHandler(db, lifecycle, imp, cfg, log),
		Public: handlers.NewPublicHandler(alerter, log),
	}
}

func provideApp(db *gorm.DB, cfg *config.Config, log *zap.Logger, h routes.Handlers) *fiber.App {
	app := routes.NewApp(cfg, log)
	routes.Register(app, db, cfg, h)
	return app
}

func startTelemetry(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
	shutdown, err := telemetry.Setup(context.Background(), cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	if cfg.OTelEndpoint == "" {
		log.Info("tracing disabled")
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return nil
}

func ensureStaff(db *gorm.DB, cfg *config.Config, log *zap.Logger) error {
	user, err := database.EnsureStaff(db, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("ensure staff account: %w", err)
	}
	if user != nil {
		log.Info("staff account ready", zap.String("email", user.Email))
	}
	return nil
}

func startServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", ":"+cfg.AppPort)
			if err != nil {
				return fmt.Errorf("listen on :%s: %w", cfg.AppPort, err)
			}
			log.Info("starting server", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := app.Listener(ln); err != nil && !errors.Is(err, net.ErrClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return app.ShutdownWithContext(ctx)
		},
	})
}
