// Package provisioning creates the client-area records of a newly registered
// account from the history of its meter point.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

const (
	PlanName    = "Offre Standard"
	HistoryNote = "Historique importé"

	issueDelay = 3 * 24 * time.Hour
)

// Provisioner materializes contract, profile, invoices and readings. Every
// write is an upsert so provisioning the same account twice is harmless.
type Provisioner struct {
	Now func() time.Time
}

// NewProvisioner returns a Provisioner using the wall clock.
func NewProvisioner() *Provisioner {
	return &Provisioner{Now: time.Now}
}

// AccountRef is the short account tag used in self-service references.
func AccountRef(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// ContractRef returns the reference of the contract created at registration.
func ContractRef(id uuid.UUID) string { return "CTR-SELF-" + AccountRef(id) }

// CustomerRef returns the customer reference created at registration.
func CustomerRef(id uuid.UUID) string { return "CLI-SELF-" + AccountRef(id) }

// InvoiceRef returns the reference of the invoice for the month of periodStart.
func InvoiceRef(id uuid.UUID, periodStart time.Time) string {
	return fmt.Sprintf("FAC-SELF-%s-%s", AccountRef(id), periodStart.Format("200601"))
}

// Provision runs inside tx; an error leaves the caller to roll back.
func (p *Provisioner) Provision(ctx context.Context, tx *gorm.DB, account *models.User, meterPoint *models.MeterPoint) error {
	tx = tx.WithContext(ctx)

	if err := p.upsertContract(tx, account, meterPoint); err != nil {
		return fmt.Errorf("provision contract: %w", err)
	}
	if err := p.ensureProfile(tx, account, meterPoint); err != nil {
		return fmt.Errorf("provision profile: %w", err)
	}
	if err := p.materializeHistory(tx, account, meterPoint); err != nil {
		return fmt.Errorf("provision history: %w", err)
	}
	return nil
}

func (p *Provisioner) upsertContract(tx *gorm.DB, account *models.User, meterPoint *models.MeterPoint) error {
	now := p.Now().UTC()
	meterPointID := meterPoint.ID

	var contract models.Contract
	err := tx.Where("user_id = ?", account.ID).First(&contract).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	contract.UserID = account.ID
	contract.MeterPointID = &meterPointID
	contract.Reference = ContractRef(account.ID)
	contract.StartDate = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	contract.PlanName = PlanName
	contract.SupplyAddress = meterPoint.FullAddress()
	contract.Status = models.ContractActive
	return tx.Save(&contract).Error
}

func (p *Provisioner) ensureProfile(tx *gorm.DB, account *models.User, meterPoint *models.MeterPoint) error {
	var count int64
	if err := tx.Model(&models.CustomerProfile{}).Where("user_id = ?", account.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	profile := models.CustomerProfile{
		UserID:                   account.ID,
		CustomerRef:              CustomerRef(account.ID),
		EAN:                      meterPoint.EAN,
		SupplyAddressStreet:      meterPoint.AddressLine1,
		SupplyAddressNumber:      meterPoint.AddressLine2,
		SupplyAddressPostalCode:  meterPoint.PostalCode,
		SupplyAddressCity:        meterPoint.City,
		BillingAddressStreet:     meterPoint.AddressLine1,
		BillingAddressNumber:     meterPoint.AddressLine2,
		BillingAddressPostalCode: meterPoint.PostalCode,
		BillingAddressCity:       meterPoint.City,
		PreferredContact:         models.ContactEmail,
		Language:                 "fr",
	}
	return tx.Create(&profile).Error
}

// materializeHistory writes one invoice and one validated reading per history
// row. Every invoice is paid except the most recent one.
func (p *Provisioner) materializeHistory(tx *gorm.DB, account *models.User, meterPoint *models.MeterPoint) error {
	var history []models.MeterPointHistory
	if err := tx.Where("meter_point_id = ?", meterPoint.ID).Order("period_start").Find(&history).Error; err != nil {
		return err
	}

	var readings []models.MeterReading
	if err := tx.Where("user_id = ?", account.ID).Find(&readings).Error; err != nil {
		return err
	}

	for i, item := range history {
		status := models.InvoicePaid
		if i == len(history)-1 {
			status = models.InvoiceDue
		}

		if err := upsertInvoice(tx, models.Invoice{
			UserID:      account.ID,
			Reference:   InvoiceRef(account.ID, item.PeriodStart),
			PeriodStart: item.PeriodStart,
			PeriodEnd:   item.PeriodEnd,
			IssueDate:   item.PeriodEnd.Add(issueDelay),
			AmountCents: item.AmountCents,
			Status:      status,
		}); err != nil {
			return err
		}

		reading := findReading(readings, item.ReadingDate)
		if reading == nil {
			reading = &models.MeterReading{UserID: account.ID, ReadingDate: item.ReadingDate}
		}
		reading.ValueKWh = item.ConsumptionKWh
		reading.Status = models.ReadingValidated
		reading.Note = HistoryNote
		if err := tx.Save(reading).Error; err != nil {
			return err
		}
	}
	return nil
}

func upsertInvoice(tx *gorm.DB, want models.Invoice) error {
	var existing models.Invoice
	err := tx.Where("user_id = ? AND reference = ?", want.UserID, want.Reference).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&want).Error
	case err != nil:
		return err
	}

	want.ID = existing.ID
	want.CreatedAt = existing.CreatedAt
	want.PDFPath = existing.PDFPath
	return tx.Save(&want).Error
}

func findReading(readings []models.MeterReading, date time.Time) *models.MeterReading {
	for i := range readings {
		if readings[i].ReadingDate.Equal(date) {
			return &readings[i]
		}
	}
	return nil
}
