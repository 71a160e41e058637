package handlers

import (
	"context"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Lapin-Blanc/electruc-portal/internal/notify"
)

const (
	maxContactName    = 100
	maxContactMessage = 2000
)

// ContactAlerter forwards contact form messages to staff.
type ContactAlerter interface {
	NotifyContact(ctx context.Context, msg notify.ContactMessage) error
}

// PublicHandler serves unauthenticated endpoints other than auth.
type PublicHandler struct {
	alerter ContactAlerter
	log     *zap.Logger
}

// NewPublicHandler constructs a PublicHandler.
func NewPublicHandler(alerter ContactAlerter, log *zap.Logger) *PublicHandler {
	return &PublicHandler{alerter: alerter, log: log}
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Contact validates a contact form and forwards it to staff.
func (h *PublicHandler) Contact(c *fiber.Ctx) error {
	var req contactRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Message = strings.TrimSpace(req.Message)

	fields := map[string][]string{}
	switch {
	case req.Name == "":
		fields["name"] = []string{"Ce champ est obligatoire."}
	case utf8.RuneCountInString(req.Name) > maxContactName:
		fields["name"] = []string{"Le nom ne peut pas dépasser 100 caractères."}
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		fields["email"] = []string{"Saisissez une adresse e-mail valide."}
	}
	switch {
	case req.Message == "":
		fields["message"] = []string{"Ce champ est obligatoire."}
	case utf8.RuneCountInString(req.Message) > maxContactMessage:
		fields["message"] = []string{"Le message ne peut pas dépasser 2000 caractères."}
	}
	if len(fields) > 0 {
		return fieldErrors(c, fields)
	}

	err := h.alerter.NotifyContact(c.UserContext(), notify.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		h.log.Warn("contact message not forwarded", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Merci, votre message a bien été envoyé.",
	})
}
