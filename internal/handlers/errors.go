package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Lapin-Blanc/electruc-portal/internal/activation"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/registration"
	"github.com/Lapin-Blanc/electruc-portal/internal/storage"
)

// User-facing messages. Unknown EAN and bad invitation share one message so
// the form cannot be used to probe which EANs exist.
const (
	msgInvalidInvitation = "Invitation invalide, expirée ou déjà utilisée."
	msgLockedInvitation  = "Trop de tentatives. Réessayez dans 15 minutes."
	msgIdentityInUse     = "Cette adresse e-mail ou ce point de fourniture est déjà associé à un compte."
	msgInvalidToken      = "Lien d'activation invalide ou expiré."
	msgInvalidBody       = "invalid request body"
	msgNotFound          = "Ressource introuvable."
)

// fieldErrors answers 422 with per-field messages.
func fieldErrors(c *fiber.Ctx, fields map[string][]string) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
		"success": false,
		"error":   "Le formulaire contient des erreurs.",
		"fields":  fields,
	})
}

// domainError maps service errors to HTTP answers. Anything unknown is
// returned as is and rendered as a 500 by the error handler.
func domainError(c *fiber.Ctx, err error) error {
	var verr *registration.ValidationError
	switch {
	case errors.As(err, &verr):
		return fieldErrors(c, verr.Fields)
	case errors.Is(err, invitation.ErrUnknownMeterPoint), errors.Is(err, invitation.ErrInvalidInvitation):
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidInvitation)
	case errors.Is(err, invitation.ErrLockedInvitation):
		return fiber.NewError(fiber.StatusLocked, msgLockedInvitation)
	case errors.Is(err, registration.ErrIdentityAlreadyInUse):
		return fiber.NewError(fiber.StatusConflict, msgIdentityInUse)
	case errors.Is(err, activation.ErrInvalidOrExpiredToken):
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidToken)
	case storage.IsValidation(err):
		return fieldErrors(c, map[string][]string{"file": {uploadMessage(err)}})
	}
	return err
}

func uploadMessage(err error) string {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return "Le fichier dépasse 5 Mo."
	case errors.Is(err, storage.ErrEmpty):
		return "Le fichier est vide."
	case errors.Is(err, storage.ErrContentMismatch):
		return "Le contenu du fichier ne correspond pas à son extension."
	default:
		return "Type de fichier non autorisé."
	}
}
