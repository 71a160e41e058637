// Package activation issues and redeems the signed links that activate
// self-registered accounts.
package activation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/database"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/telemetry"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

// ActivationPath is the route prefix of activation links.
const ActivationPath = "/api/auth/activation/"

// ErrInvalidOrExpiredToken is returned for any token that does not verify.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired activation token")

// Service activates accounts and confirms their invitation.
type Service struct {
	db        *gorm.DB
	lifecycle *invitation.Lifecycle
	secret    string
	ttl       time.Duration
	siteURL   string
	log       *zap.Logger

	Now func() time.Time
}

// NewService creates an activation Service.
func NewService(db *gorm.DB, lifecycle *invitation.Lifecycle, cfg *config.Config, log *zap.Logger) *Service {
	return &Service{
		db:        db,
		lifecycle: lifecycle,
		secret:    cfg.JWTSecret,
		ttl:       cfg.ActivationTTL,
		siteURL:   strings.TrimRight(cfg.SiteURL, "/"),
		log:       log,
		Now:       time.Now,
	}
}

// Link returns the activation URL for account and when it stops working.
// The token is bound to the account email and current password hash.
func (s *Service) Link(account *models.User) (string, time.Time, error) {
	now := s.Now()
	token, err := utils.GenerateActivationToken(s.secret, account.ID, account.Email, utils.PasswordStamp(account.PasswordHash), now, s.ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.siteURL + ActivationPath + token, now.Add(s.ttl), nil
}

// Activate verifies token, activates the account and confirms its
// outstanding reservation when there is one. Activating twice succeeds.
func (s *Service) Activate(ctx context.Context, token string) (account *models.User, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "activation.Activate")
	defer func() { telemetry.End(span, err) }()

	claims, err := utils.ParseActivationToken(s.secret, token, s.Now)
	if err != nil {
		s.log.Debug("activation token rejected", zap.Error(err))
		return nil, ErrInvalidOrExpiredToken
	}
	span.SetAttributes(attribute.String("account_id", claims.UserID.String()))

	err = database.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var user models.User
			if err := tx.First(&user, "id = ?", claims.UserID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInvalidOrExpiredToken
				}
				return err
			}
			if user.Email != claims.Email || utils.PasswordStamp(user.PasswordHash) != claims.Stamp {
				return ErrInvalidOrExpiredToken
			}

			if !user.IsActive {
				if err := tx.Model(&user).Update("is_active", true).Error; err != nil {
					return err
				}
				user.IsActive = true
			}

			outstanding, err := s.lifecycle.OutstandingFor(ctx, tx, user.ID)
			if err != nil {
				return err
			}
			if outstanding != nil {
				if err := s.lifecycle.Confirm(ctx, tx, outstanding, user.ID); err != nil {
					return err
				}
			}

			account = &user
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("account activated", zap.String("account_id", account.ID.String()))
	return account, nil
}

// TokenFromURL extracts the token part of an activation link.
func TokenFromURL(link string) string {
	if i := strings.LastIndex(link, ActivationPath); i >= 0 {
		return link[i+len(ActivationPath):]
	}
	return link
}
