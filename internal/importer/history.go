package importer

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

const (
	pricePerKWhCents  = 28
	subscriptionCents = 1500
)

// SyntheticHistory returns months of history ending with the last complete
// month before now. Values depend only on the EAN, so repeated imports agree.
func SyntheticHistory(ean string, months int, now time.Time) []models.MeterPointHistory {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ean))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	now = now.UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfMonth.AddDate(0, -months, 0)

	index := 10000 + int(seed%5000)
	rows := make([]models.MeterPointHistory, 0, months)
	for i := 0; i < months; i++ {
		periodStart := start.AddDate(0, i, 0)
		periodEnd := periodStart.AddDate(0, 1, -1)
		consumption := 180 + rng.IntN(240)
		index += consumption

		rows = append(rows, models.MeterPointHistory{
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			ReadingDate:    periodEnd,
			ConsumptionKWh: index,
			AmountCents:    int64(consumption*pricePerKWhCents + subscriptionCents),
		})
	}
	return rows
}

// EnsureHistory inserts the synthetic months missing for mp.
func EnsureHistory(tx *gorm.DB, mp *models.MeterPoint, months int, now time.Time) error {
	if months <= 0 {
		return nil
	}

	var existing []models.MeterPointHistory
	if err := tx.Where("meter_point_id = ?", mp.ID).Find(&existing).Error; err != nil {
		return err
	}

	var missing []models.MeterPointHistory
	for _, row := range SyntheticHistory(mp.EAN, months, now) {
		if hasPeriod(existing, row.PeriodStart) {
			continue
		}
		row.MeterPointID = mp.ID
		missing = append(missing, row)
	}
	if len(missing) == 0 {
		return nil
	}
	return tx.Create(&missing).Error
}

func hasPeriod(rows []models.MeterPointHistory, start time.Time) bool {
	for i := range rows {
		if rows[i].PeriodStart.Equal(start) {
			return true
		}
	}
	return false
}
