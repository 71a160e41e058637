package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ContactEmail = "email"
	ContactPhone = "phone"
)

// CustomerProfile holds the administrative data of a client.
type CustomerProfile struct {
	BaseModel
	UserID                   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	CustomerRef              string    `gorm:"uniqueIndex;not null" json:"customer_ref"`
	EAN                      string    `gorm:"uniqueIndex;not null" json:"ean"`
	SupplyAddressStreet      string    `json:"supply_address_street"`
	SupplyAddressNumber      string    `json:"supply_address_number"`
	SupplyAddressPostalCode  string    `json:"supply_address_postal_code"`
	SupplyAddressCity        string    `json:"supply_address_city"`
	BillingAddressStreet     string    `json:"billing_address_street"`
	BillingAddressNumber     string    `json:"billing_address_number"`
	BillingAddressPostalCode string    `json:"billing_address_postal_code"`
	BillingAddressCity       string    `json:"billing_address_city"`
	Phone                    string    `json:"phone"`
	PreferredContact         string    `gorm:"default:email" json:"preferred_contact"`
	Language                 string    `gorm:"default:fr" json:"language"`
	NotesAdmin               string    `json:"-"`
}

const (
	ContractActive    = "active"
	ContractSuspended = "suspended"
	ContractClosed    = "closed"
)

// Contract is an energy supply contract.
type Contract struct {
	BaseModel
	UserID        uuid.UUID   `gorm:"type:uuid;index;not null" json:"user_id"`
	MeterPointID  *uuid.UUID  `gorm:"type:uuid;index" json:"meter_point_id"`
	MeterPoint    *MeterPoint `json:"meter_point,omitempty"`
	Reference     string      `gorm:"uniqueIndex;not null" json:"reference"`
	StartDate     time.Time   `json:"start_date"`
	PlanName      string      `json:"plan_name"`
	SupplyAddress string      `json:"supply_address"`
	Status        string      `gorm:"default:active" json:"status"`
}

const (
	InvoiceDue       = "due"
	InvoicePaid      = "paid"
	InvoiceCancelled = "cancelled"
)

// Invoice is a customer invoice. PDFPath is empty when the document is
// generated on download.
type Invoice struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Reference   string    `gorm:"index" json:"reference"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	IssueDate   time.Time `json:"issue_date"`
	AmountCents int64     `json:"amount_cents"`
	Status      string    `gorm:"default:due" json:"status"`
	PDFPath     string    `json:"-"`
}

// StatusLabel returns the French label shown on documents.
func (i *Invoice) StatusLabel() string {
	switch i.Status {
	case InvoicePaid:
		return "Payée"
	case InvoiceCancelled:
		return "Annulée"
	default:
		return "À payer"
	}
}

const (
	ReadingSubmitted = "submitted"
	ReadingValidated = "validated"
	ReadingRejected  = "rejected"
)

// MeterReading is an index reported by the client or imported from history.
type MeterReading struct {
	BaseModel
	UserID      uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	ReadingDate time.Time `json:"reading_date"`
	ValueKWh    int       `json:"value_kwh"`
	Status      string    `gorm:"default:submitted" json:"status"`
	Note        string    `json:"note"`
}

const (
	RequestOpen       = "open"
	RequestInProgress = "in_progress"
	RequestClosed     = "closed"
)

// SupportRequest is a message to customer service with optional attachments.
type SupportRequest struct {
	BaseModel
	UserID      uuid.UUID    `gorm:"type:uuid;index;not null" json:"user_id"`
	Subject     string       `gorm:"size:120" json:"subject"`
	Message     string       `json:"message"`
	Status      string       `gorm:"default:open" json:"status"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file uploaded with a support request.
type Attachment struct {
	BaseModel
	SupportRequestID uuid.UUID `gorm:"type:uuid;index;not null" json:"support_request_id"`
	Path             string    `json:"-"`
	OriginalName     string    `json:"original_name"`
	ContentType      string    `json:"content_type"`
	Size             int64     `json:"size"`
}

const (
	DomiciliationPending  = "pending"
	DomiciliationActive   = "active"
	DomiciliationRejected = "rejected"
)

// Domiciliation is a direct debit activation request with its signed document.
type Domiciliation struct {
	BaseModel
	UserID       uuid.UUID `gorm:"type:uuid;index;not null" json:"user_id"`
	Status       string    `gorm:"default:pending" json:"status"`
	DocumentPath string    `json:"-"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
}
