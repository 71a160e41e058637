package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"electruc-portal"`
	AppPort     string `env:"APP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://electruc.db"`
	SiteURL     string `env:"SITE_URL" envDefault:"http://localhost:8080"`
	UploadDir   string `env:"UPLOAD_DIR" envDefault:"media"`

	JWTSecret     string `env:"JWT_SECRET"`
	TokenExpires  time.Duration
	JWTTTLHours   int           `env:"JWT_TTL_HOURS" envDefault:"24"`
	ActivationTTL time.Duration `env:"ACTIVATION_TTL" envDefault:"72h"`

	Invitation InvitationConfig
	Password   PasswordConfig
	Mail       MailConfig
	RabbitMQ   RabbitMQConfig
	Log        LogConfig

	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChat string `env:"TELEGRAM_ADMIN_CHAT_ID"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	OTelEndpoint          string `env:"OTEL_ENDPOINT"`
	RegisterRatePerMinute int    `env:"REGISTER_RATE_PER_MINUTE" envDefault:"10"`
}

// InvitationConfig controls issuance and lockout of invitations.
type InvitationConfig struct {
	TTL           time.Duration `env:"INVITATION_TTL" envDefault:"720h"`
	MaxAttempts   int           `env:"INVITATION_MAX_ATTEMPTS" envDefault:"5"`
	LockWindow    time.Duration `env:"INVITATION_LOCK_WINDOW" envDefault:"15m"`
	HistoryMonths int           `env:"INVITATION_HISTORY_MONTHS" envDefault:"5"`
}

// PasswordConfig is the password strength policy applied at registration.
type PasswordConfig struct {
	MinLength int `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
}

// MailConfig holds SMTP delivery settings.
type MailConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM" envDefault:"Electruc <no-reply@electruc.local>"`
}

// RabbitMQConfig holds the outbox broker settings. An empty URL disables it.
type RabbitMQConfig struct {
	URL        string `env:"RABBITMQ_URL"`
	Exchange   string `env:"RABBITMQ_EXCHANGE" envDefault:"portal.notifications"`
	Queue      string `env:"RABBITMQ_QUEUE" envDefault:"portal.notifications.activation"`
	RoutingKey string `env:"RABBITMQ_ROUTING_KEY" envDefault:"account.activation"`
	Prefetch   int    `env:"RABBITMQ_PREFETCH" envDefault:"10"`
}

// LogConfig selects log level and optional rotating file output.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
}

// Load reads the optional .env file and environment variables and returns a populated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.TokenExpires = time.Duration(cfg.JWTTTLHours) * time.Hour

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppPort == "" {
		return errors.New("APP_PORT must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.Invitation.MaxAttempts <= 0 {
		return errors.New("INVITATION_MAX_ATTEMPTS must be positive")
	}
	if c.Invitation.LockWindow <= 0 {
		return errors.New("INVITATION_LOCK_WINDOW must be positive")
	}
	return nil
}
