// Package registration creates pending accounts from a meter point
// invitation.
package registration

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/database"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/notify"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/telemetry"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

// Request is a self-registration form submission.
type Request struct {
	EAN             string `json:"ean"`
	Code            string `json:"code"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// Result describes a successful registration.
type Result struct {
	Account    *models.User
	Invitation *models.Invitation
	// Notified is false when the activation message could not be dispatched.
	Notified bool
}

// Provisioner creates the client-area records of a new account inside tx.
type Provisioner interface {
	Provision(ctx context.Context, tx *gorm.DB, account *models.User, meterPoint *models.MeterPoint) error
}

// LinkIssuer signs activation links.
type LinkIssuer interface {
	Link(account *models.User) (string, time.Time, error)
}

// Alerter is told about registrations awaiting activation.
type Alerter interface {
	NotifyRegistration(ctx context.Context, email, ean string) error
}

// Service registers accounts against invitations.
type Service struct {
	db          *gorm.DB
	lifecycle   *invitation.Lifecycle
	provisioner Provisioner
	links       LinkIssuer
	notifier    notify.Notifier
	alerter     Alerter
	policy      PasswordPolicy
	log         *zap.Logger
}

// NewService wires a registration Service. alerter may be nil.
func NewService(
	db *gorm.DB,
	lifecycle *invitation.Lifecycle,
	provisioner Provisioner,
	links LinkIssuer,
	notifier notify.Notifier,
	alerter Alerter,
	cfg *config.Config,
	log *zap.Logger,
) *Service {
	return &Service{
		db:          db,
		lifecycle:   lifecycle,
		provisioner: provisioner,
		links:       links,
		notifier:    notifier,
		alerter:     alerter,
		policy:      PasswordPolicy{MinLength: cfg.Password.MinLength},
		log:         log,
	}
}

func (r *Request) normalize() {
	r.EAN = strings.TrimSpace(r.EAN)
	r.Code = secretcode.Normalize(r.Code)
	r.Email = models.NormalizeEmail(r.Email)
}

func (s *Service) validate(r Request) error {
	verr := &ValidationError{}

	if r.EAN == "" {
		verr.Add("ean", "Ce champ est obligatoire.")
	}
	if r.Code == "" {
		verr.Add("code", "Ce champ est obligatoire.")
	}
	if r.Email == "" {
		verr.Add("email", "Ce champ est obligatoire.")
	} else if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		verr.Add("email", "Saisissez une adresse e-mail valide.")
	}
	if r.Password != r.PasswordConfirm {
		verr.Add("password_confirm", "Les deux mots de passe ne correspondent pas.")
	}
	for _, problem := range s.policy.Check(r.Password, r.Email) {
		verr.Add("password", problem)
	}

	return verr.orNil()
}

// Register validates req, reserves the invitation for a new inactive account
// and provisions it, all in one transaction. The activation message is sent
// after commit; a delivery failure is logged and does not fail the call.
func (s *Service) Register(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "registration.Register")
	defer func() { telemetry.End(span, err) }()

	req.normalize()
	span.SetAttributes(attribute.String("ean", req.EAN))

	if err := s.validate(req); err != nil {
		return nil, err
	}

	verified, err := s.lifecycle.Verify(ctx, req.EAN, req.Code)
	if err != nil {
		return nil, err
	}

	passwordHash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var account *models.User
	var reserved *models.Invitation
	err = database.WithRetry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			account, err = s.pendingAccount(tx, req.Email, passwordHash, verified)
			if err != nil {
				return err
			}

			reserved, err = s.lifecycle.Reserve(ctx, tx, verified.ID, account.ID)
			if err != nil {
				return err
			}

			return s.provisioner.Provision(ctx, tx, account, verified.MeterPoint)
		})
	})
	if err != nil {
		return nil, err
	}
	reserved.MeterPoint = verified.MeterPoint

	s.log.Info("registration reserved invitation",
		zap.String("account_id", account.ID.String()),
		zap.String("invitation_id", reserved.ID.String()),
	)

	res = &Result{Account: account, Invitation: reserved}
	res.Notified = s.sendActivation(ctx, account)

	if s.alerter != nil {
		if err := s.alerter.NotifyRegistration(ctx, account.Email, req.EAN); err != nil {
			s.log.Warn("staff alert failed", zap.Error(err))
		}
	}
	return res, nil
}

// pendingAccount returns the inactive account to reserve for. An existing
// inactive account is reused only when it already holds this invitation's
// reservation; its password and names are refreshed. A reservation held by
// anyone else is reported as an invalid invitation before any identity check.
func (s *Service) pendingAccount(tx *gorm.DB, email, passwordHash string, inv *models.Invitation) (*models.User, error) {
	meterPoint := inv.MeterPoint

	var account models.User
	err := tx.Where("email = ?", email).First(&account).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if inv.UsedByID != nil && !inv.IsReservedBy(account.ID) {
		return nil, invitation.ErrInvalidInvitation
	}

	if err == nil {
		if account.IsActive || !inv.IsReservedBy(account.ID) {
			return nil, ErrIdentityAlreadyInUse
		}
		account.PasswordHash = passwordHash
		account.FirstName = meterPoint.HolderFirstName
		account.LastName = meterPoint.HolderLastName
		if err := tx.Model(&account).Updates(map[string]interface{}{
			"password_hash": account.PasswordHash,
			"first_name":    account.FirstName,
			"last_name":     account.LastName,
		}).Error; err != nil {
			return nil, err
		}
	} else {
		account = models.User{
			Email:        email,
			FirstName:    meterPoint.HolderFirstName,
			LastName:     meterPoint.HolderLastName,
			PasswordHash: passwordHash,
		}
	}

	var profile models.CustomerProfile
	err = tx.Where("ean = ?", meterPoint.EAN).First(&profile).Error
	if err == nil && profile.UserID != account.ID {
		return nil, ErrIdentityAlreadyInUse
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if account.ID == uuid.Nil {
		if err := tx.Create(&account).Error; err != nil {
			return nil, err
		}
	}
	return &account, nil
}

func (s *Service) sendActivation(ctx context.Context, account *models.User) bool {
	link, expires, err := s.links.Link(account)
	if err != nil {
		s.log.Error("activation link failed", zap.Error(err), zap.String("account_id", account.ID.String()))
		return false
	}

	msg, err := notify.NewActivationMessage(account, link, expires)
	if err != nil {
		s.log.Error("activation message failed", zap.Error(err))
		return false
	}

	if err := s.notifier.SendActivation(ctx, msg); err != nil {
		s.log.Warn("activation message not delivered",
			zap.Error(err),
			zap.String("account_id", account.ID.String()),
		)
		return false
	}
	return true
}
