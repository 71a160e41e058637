package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
)

const readingDateLayout = "2006-01-02"

func (h *ClientHandler) lastValidated(c *fiber.Ctx, userID uuid.UUID) (*models.MeterReading, error) {
	var reading models.MeterReading
	err := h.db.WithContext(c.UserContext()).
		Where("user_id = ? AND status = ?", userID, models.ReadingValidated).
		Order("reading_date desc").
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// ListReadings returns every reading of the client, newest first.
func (h *ClientHandler) ListReadings(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var readings []models.MeterReading
	if err := h.db.WithContext(c.UserContext()).
		Where("user_id = ?", user.ID).
		Order("reading_date desc").
		Find(&readings).Error; err != nil {
		return err
	}
	last, err := h.lastValidated(c, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"readings":       readings,
			"last_validated": last,
		},
	})
}

type readingRequest struct {
	ReadingDate string `json:"reading_date"`
	ValueKWh    *int   `json:"value_kwh"`
}

// SubmitReading records an index for staff validation. The date cannot be
// in the future nor before the last validated reading, and the index cannot
// go down.
func (h *ClientHandler) SubmitReading(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req readingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	last, err := h.lastValidated(c, user.ID)
	if err != nil {
		return err
	}

	fields := map[string][]string{}
	date, err := time.Parse(readingDateLayout, req.ReadingDate)
	if err != nil {
		fields["reading_date"] = []string{"Saisissez une date valide."}
	} else {
		now := h.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		switch {
		case date.After(today):
			fields["reading_date"] = []string{"La date du relevé ne peut pas être dans le futur."}
		case last != nil && date.Before(dateOnly(last.ReadingDate)):
			fields["reading_date"] = []string{"La date ne peut pas être antérieure au dernier relevé validé."}
		}
	}
	switch {
	case req.ValueKWh == nil:
		fields["value_kwh"] = []string{"Ce champ est obligatoire."}
	case *req.ValueKWh < 0:
		fields["value_kwh"] = []string{"L'index ne peut pas être négatif."}
	case last != nil && *req.ValueKWh < last.ValueKWh:
		fields["value_kwh"] = []string{"L'index doit être supérieur ou égal au dernier relevé validé."}
	}
	if len(fields) > 0 {
		return fieldErrors(c, fields)
	}

	reading := models.MeterReading{
		UserID:      user.ID,
		ReadingDate: date,
		ValueKWh:    *req.ValueKWh,
		Status:      models.ReadingSubmitted,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&reading).Error; err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Votre relevé a été envoyé pour validation.",
		"data":    reading,
	})
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
