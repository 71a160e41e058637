package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MeterPoint is a physical supply point identified by its EAN code.
type MeterPoint struct {
	BaseModel
	EAN             string              `gorm:"uniqueIndex;not null" json:"ean"`
	HolderFirstName string              `json:"holder_firstname"`
	HolderLastName  string              `json:"holder_lastname"`
	AddressLine1    string              `json:"address_line1"`
	AddressLine2    string              `json:"address_line2"`
	PostalCode      string              `json:"postal_code"`
	City            string              `json:"city"`
	Country         string              `gorm:"default:BE" json:"country"`
	History         []MeterPointHistory `json:"history,omitempty"`
}

// HolderName returns the holder's full name.
func (m *MeterPoint) HolderName() string {
	return strings.TrimSpace(m.HolderFirstName + " " + m.HolderLastName)
}

// FullAddress formats the supply address on a single line.
func (m *MeterPoint) FullAddress() string {
	street := strings.TrimSpace(m.AddressLine1 + " " + m.AddressLine2)
	return strings.TrimSpace(fmt.Sprintf("%s, %s %s", street, m.PostalCode, m.City))
}

// MeterPointHistory is one billed month of a meter point, used to provision
// invoices and validated readings for a newly registered account.
type MeterPointHistory struct {
	BaseModel
	MeterPointID   uuid.UUID `gorm:"type:uuid;index;not null" json:"meter_point_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	ReadingDate    time.Time `json:"reading_date"`
	ConsumptionKWh int       `json:"consumption_kwh"`
	AmountCents    int64     `json:"amount_cents"`
}
