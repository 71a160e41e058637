package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvitationStatus is the stored phase of an invitation. Expired and locked
// are not stored; they are derived from timestamps at read time.
type InvitationStatus string

const (
	InvitationIssued    InvitationStatus = "issued"
	InvitationReserved  InvitationStatus = "reserved"
	InvitationConfirmed InvitationStatus = "confirmed"
)

// Derived states reported by Invitation.State.
const (
	StateIssued    = "issued"
	StateReserved  = "reserved"
	StateConfirmed = "confirmed"
	StateExpired   = "expired"
	StateLocked    = "locked"
)

var (
	// ErrInvitationTransition is returned when a transition is not allowed from the current phase.
	ErrInvitationTransition = errors.New("invitation transition not allowed")
	// ErrInvitationReservedByOther is returned when another account holds the reservation.
	ErrInvitationReservedByOther = errors.New("invitation reserved by another account")
)

// Invitation pairs a meter point with a hashed one-time secret code.
// The plaintext code is never persisted.
type Invitation struct {
	BaseModel
	MeterPointID   uuid.UUID        `gorm:"type:uuid;index;not null" json:"meter_point_id"`
	MeterPoint     *MeterPoint      `json:"meter_point,omitempty"`
	Status         InvitationStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	SecretHash     string           `gorm:"not null" json:"-"`
	ExpiresAt      time.Time        `gorm:"index" json:"expires_at"`
	FailedAttempts int              `gorm:"not null;default:0" json:"failed_attempts"`
	LockedUntil    *time.Time       `json:"locked_until"`
	UsedByID       *uuid.UUID       `gorm:"type:uuid;index" json:"used_by_id"`
	UsedBy         *User            `gorm:"foreignKey:UsedByID" json:"used_by,omitempty"`
	UsedAt         *time.Time       `json:"used_at"`
}

// IsExpired reports whether the invitation is expired at now. The boundary is
// exclusive: an invitation expiring exactly at now is expired.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// IsLocked reports whether verification attempts are currently refused.
func (i *Invitation) IsLocked(now time.Time) bool {
	return i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// IsReservedBy reports whether account holds the reservation.
func (i *Invitation) IsReservedBy(account uuid.UUID) bool {
	return i.UsedByID != nil && *i.UsedByID == account
}

// State returns the effective state at now.
func (i *Invitation) State(now time.Time) string {
	switch {
	case i.Status == InvitationConfirmed:
		return StateConfirmed
	case i.IsExpired(now):
		return StateExpired
	case i.IsLocked(now):
		return StateLocked
	case i.Status == InvitationReserved:
		return StateReserved
	default:
		return StateIssued
	}
}

// Reserve records account as the tentative owner. Reserving again for the same
// account is a no-op.
func (i *Invitation) Reserve(account uuid.UUID) error {
	switch i.Status {
	case InvitationConfirmed:
		return ErrInvitationTransition
	case InvitationReserved:
		if i.IsReservedBy(account) {
			return nil
		}
		return ErrInvitationReservedByOther
	}

	id := account
	i.UsedByID = &id
	i.Status = InvitationReserved
	return nil
}

// Confirm marks the reservation held by account as consumed at now. Confirming
// an invitation already confirmed by the same account is a no-op.
func (i *Invitation) Confirm(account uuid.UUID, now time.Time) error {
	if !i.IsReservedBy(account) {
		return ErrInvitationTransition
	}
	if i.Status == InvitationConfirmed {
		return nil
	}

	at := now
	i.UsedAt = &at
	i.Status = InvitationConfirmed
	return nil
}

// BeforeSave rejects rows whose phase disagrees with the reservation columns.
func (i *Invitation) BeforeSave(tx *gorm.DB) error {
	if i.ID == uuid.Nil && i.Status == "" {
		// Batch updates through an empty model.
		return nil
	}
	return i.checkConsistency()
}

func (i *Invitation) checkConsistency() error {
	switch i.Status {
	case InvitationIssued:
		if i.UsedByID != nil || i.UsedAt != nil {
			return fmt.Errorf("issued invitation %s carries a reservation", i.ID)
		}
	case InvitationReserved:
		if i.UsedByID == nil || i.UsedAt != nil {
			return fmt.Errorf("reserved invitation %s must have used_by and no used_at", i.ID)
		}
	case InvitationConfirmed:
		if i.UsedByID == nil || i.UsedAt == nil {
			return fmt.Errorf("confirmed invitation %s must have used_by and used_at", i.ID)
		}
	default:
		return fmt.Errorf("invitation %s has unknown status %q", i.ID, i.Status)
	}
	return nil
}
