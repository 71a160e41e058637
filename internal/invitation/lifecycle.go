// Package invitation implements issuance, verification and two-phase
// consumption of meter point invitations.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/telemetry"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

var (
	// ErrUnknownMeterPoint is returned when no meter point has the submitted EAN.
	ErrUnknownMeterPoint = errors.New("unknown meter point")
	// ErrInvalidInvitation covers a missing, expired, consumed or mismatched
	// invitation, and one reserved by another account.
	ErrInvalidInvitation = errors.New("invalid invitation")
	// ErrLockedInvitation is returned while attempts are refused after too many failures.
	ErrLockedInvitation = errors.New("invitation locked")
)

// Lifecycle drives invitations through issued, reserved and confirmed.
type Lifecycle struct {
	db    *gorm.DB
	codec *secretcode.Codec
	cfg   config.InvitationConfig

	// Now is the clock used for every expiry and lock check.
	Now func() time.Time
}

// View is an invitation with its state derived at read time.
type View struct {
	models.Invitation
	State string `json:"state"`
}

// NewLifecycle creates a Lifecycle backed by db.
func NewLifecycle(db *gorm.DB, codec *secretcode.Codec, cfg config.InvitationConfig) *Lifecycle {
	return &Lifecycle{db: db, codec: codec, cfg: cfg, Now: time.Now}
}

func (l *Lifecycle) now() time.Time {
	return l.Now().UTC()
}

func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Issue expires every live invitation of the meter point and creates a new
// one. The plaintext code is returned once and cannot be recovered later.
func (l *Lifecycle) Issue(ctx context.Context, meterPoint *models.MeterPoint, ttl time.Duration) (inv *models.Invitation, plaintext string, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "invitation.Issue")
	span.SetAttributes(attribute.String("ean", meterPoint.EAN))
	defer func() { telemetry.End(span, err) }()

	if ttl <= 0 {
		ttl = l.cfg.TTL
	}

	plaintext, hash, err := l.codec.Generate()
	if err != nil {
		return nil, "", err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()
		if err := l.supersede(tx, meterPoint.ID, now); err != nil {
			return err
		}

		inv = &models.Invitation{
			MeterPointID: meterPoint.ID,
			Status:       models.InvitationIssued,
			SecretHash:   hash,
			ExpiresAt:    now.Add(ttl),
		}
		inv.CreatedAt = now
		inv.UpdatedAt = now
		return tx.Create(inv).Error
	})
	if err != nil {
		return nil, "", fmt.Errorf("issue invitation for %s: %w", meterPoint.EAN, err)
	}

	inv.MeterPoint = meterPoint
	return inv, plaintext, nil
}

// supersede sets expires_at = now on every unconsumed, unexpired invitation of
// the meter point.
func (l *Lifecycle) supersede(tx *gorm.DB, meterPointID uuid.UUID, now time.Time) error {
	var open []models.Invitation
	if err := forUpdate(tx).
		Where("meter_point_id = ? AND used_at IS NULL", meterPointID).
		Find(&open).Error; err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(open))
	for i := range open {
		if !open[i].IsExpired(now) {
			ids = append(ids, open[i].ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	return tx.Model(&models.Invitation{}).
		Where("id IN ?", ids).
		UpdateColumn("expires_at", now).Error
}

// Verify checks code against the most recent invitation of the meter point.
// It runs in its own transaction so a failed attempt is counted even though an
// error is returned.
func (l *Lifecycle) Verify(ctx context.Context, ean, code string) (inv *models.Invitation, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "invitation.Verify")
	span.SetAttributes(attribute.String("ean", ean))
	defer func() { telemetry.End(span, err) }()

	var rejected error
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := l.latestForEAN(tx, ean)
		if err != nil {
			return err
		}

		now := l.now()
		if current.Status == models.InvitationConfirmed || current.IsExpired(now) {
			return ErrInvalidInvitation
		}
		if current.IsLocked(now) {
			return ErrLockedInvitation
		}

		if !l.codec.Verify(code, current.SecretHash) {
			rejected = ErrInvalidInvitation
			return l.recordFailure(tx, current.ID, now)
		}

		if current.FailedAttempts != 0 || current.LockedUntil != nil {
			if err := tx.Model(&models.Invitation{}).
				Where("id = ?", current.ID).
				UpdateColumns(map[string]interface{}{"failed_attempts": 0, "locked_until": nil}).Error; err != nil {
				return err
			}
			current.FailedAttempts = 0
			current.LockedUntil = nil
		}

		inv = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, rejected
	}
	return inv, nil
}

// recordFailure increments the attempt counter in the database. Reaching the
// threshold locks the invitation and resets the counter.
func (l *Lifecycle) recordFailure(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	if err := tx.Model(&models.Invitation{}).
		Where("id = ?", id).
		UpdateColumn("failed_attempts", gorm.Expr("failed_attempts + 1")).Error; err != nil {
		return err
	}

	var attempts []int
	if err := tx.Model(&models.Invitation{}).
		Where("id = ?", id).
		Pluck("failed_attempts", &attempts).Error; err != nil {
		return err
	}
	if len(attempts) == 0 || attempts[0] < l.cfg.MaxAttempts {
		return nil
	}

	return tx.Model(&models.Invitation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"failed_attempts": 0,
			"locked_until":    now.Add(l.cfg.LockWindow),
		}).Error
}

func (l *Lifecycle) latestForEAN(tx *gorm.DB, ean string) (*models.Invitation, error) {
	var meterPoint models.MeterPoint
	if err := tx.Where("ean = ?", ean).First(&meterPoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownMeterPoint
		}
		return nil, err
	}

	var inv models.Invitation
	if err := forUpdate(tx).
		Where("meter_point_id = ?", meterPoint.ID).
		Order("created_at DESC").
		First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidInvitation
		}
		return nil, err
	}

	inv.MeterPoint = &meterPoint
	return &inv, nil
}

// Reserve records candidate as the tentative owner of the invitation inside
// the caller's transaction. The row is re-read under lock and re-checked
// against the clock, so a rollback of tx also drops the reservation.
func (l *Lifecycle) Reserve(ctx context.Context, tx *gorm.DB, invitationID, candidate uuid.UUID) (*models.Invitation, error) {
	var inv models.Invitation
	if err := forUpdate(tx.WithContext(ctx)).First(&inv, "id = ?", invitationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidInvitation
		}
		return nil, err
	}

	now := l.now()
	if inv.Status == models.InvitationConfirmed || inv.IsExpired(now) {
		return nil, ErrInvalidInvitation
	}
	if inv.IsLocked(now) {
		return nil, ErrLockedInvitation
	}
	if inv.IsReservedBy(candidate) {
		return &inv, nil
	}

	if err := inv.Reserve(candidate); err != nil {
		return nil, ErrInvalidInvitation
	}
	inv.UpdatedAt = now
	if err := tx.Save(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// ValidateAndReserve verifies code and then reserves the invitation for
// candidate in a separate transaction.
func (l *Lifecycle) ValidateAndReserve(ctx context.Context, ean, code string, candidate uuid.UUID) (*models.Invitation, error) {
	verified, err := l.Verify(ctx, ean, code)
	if err != nil {
		return nil, err
	}

	var reserved *models.Invitation
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		reserved, err = l.Reserve(ctx, tx, verified.ID, candidate)
		return err
	})
	if err != nil {
		return nil, err
	}
	reserved.MeterPoint = verified.MeterPoint
	return reserved, nil
}

// Confirm consumes the reservation held by account. Confirming an invitation
// already confirmed by the same account changes nothing.
func (l *Lifecycle) Confirm(ctx context.Context, tx *gorm.DB, inv *models.Invitation, account uuid.UUID) error {
	var current models.Invitation
	if err := forUpdate(tx.WithContext(ctx)).First(&current, "id = ?", inv.ID).Error; err != nil {
		return err
	}

	if current.Status == models.InvitationConfirmed && current.IsReservedBy(account) {
		*inv = current
		return nil
	}

	now := l.now()
	if err := current.Confirm(account, now); err != nil {
		return fmt.Errorf("confirm invitation %s: %w", current.ID, err)
	}
	current.UpdatedAt = now
	if err := tx.Save(&current).Error; err != nil {
		return err
	}

	*inv = current
	return nil
}

// OutstandingFor returns the most recent reservation held by account that is
// not yet confirmed, or nil when there is none.
func (l *Lifecycle) OutstandingFor(ctx context.Context, tx *gorm.DB, account uuid.UUID) (*models.Invitation, error) {
	var inv models.Invitation
	err := forUpdate(tx.WithContext(ctx)).
		Where("used_by_id = ? AND status = ?", account, models.InvitationReserved).
		Order("created_at DESC").
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// List returns a page of invitations, newest first. A non-nil meterPointID
// restricts the list to that meter point.
func (l *Lifecycle) List(ctx context.Context, page utils.Pagination, meterPointID *uuid.UUID) ([]View, int64, error) {
	filter := func(tx *gorm.DB) *gorm.DB {
		if meterPointID != nil {
			return tx.Where("meter_point_id = ?", *meterPointID)
		}
		return tx
	}
	db := l.db.WithContext(ctx)

	var total int64
	if err := db.Model(&models.Invitation{}).Scopes(filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var invitations []models.Invitation
	if err := db.Scopes(filter).
		Preload("MeterPoint").
		Preload("UsedBy").
		Order("created_at DESC").
		Limit(page.Limit).
		Offset(page.Offset).
		Find(&invitations).Error; err != nil {
		return nil, 0, err
	}

	now := l.now()
	views := make([]View, len(invitations))
	for i := range invitations {
		views[i] = View{Invitation: invitations[i], State: invitations[i].State(now)}
	}
	return views, total, nil
}
